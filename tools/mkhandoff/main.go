// Command mkhandoff generates the Go source describing a target's memory
// layout (RAM extents, load addresses, section boundaries) from a YAML
// descriptor. No generated file is checked in; the boot-mapper tests spell
// out their layouts by hand.
//
// Usage:
//
//	mkhandoff -in layout.yaml -out layout_gen.go -pkg boot
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

type section struct {
	Begin string `yaml:"begin"`
	End   string `yaml:"end"`
}

type layoutDoc struct {
	RAM struct {
		Base string `yaml:"base"`
		Size string `yaml:"size"`
	} `yaml:"ram"`

	LoadAddress string `yaml:"load_address"`
	KloadBegin  string `yaml:"kload_begin"`

	Sections map[string]section `yaml:"sections"`

	StackEnd string `yaml:"stack_end"`
}

type renderCtx struct {
	Package string
	Doc     layoutDoc
	Values  map[string]uint64
}

const fileTemplate = `// Code generated by mkhandoff; DO NOT EDIT.

package {{.Package}}

const (
	ramBase = {{printf "%#x" (index .Values "ram_base")}}
	ramSize = {{printf "%#x" (index .Values "ram_size")}}
)

var targetLayout = Layout{
	LoadAddress: {{printf "%#x" (index .Values "load_address")}},
	KloadBegin:  {{printf "%#x" (index .Values "kload_begin")}},

	TextBegin:   {{printf "%#x" (index .Values "text_begin")}},
	TextEnd:     {{printf "%#x" (index .Values "text_end")}},
	RodataBegin: {{printf "%#x" (index .Values "rodata_begin")}},
	RodataEnd:   {{printf "%#x" (index .Values "rodata_end")}},
	DataBegin:   {{printf "%#x" (index .Values "data_begin")}},
	StackEnd:    {{printf "%#x" (index .Values "stack_end")}},
}
`

func main() {
	var (
		inPath  = flag.String("in", "layout.yaml", "layout descriptor to read")
		outPath = flag.String("out", "layout_gen.go", "Go source to write")
		pkg     = flag.String("pkg", "boot", "package name for the generated file")
	)
	flag.Parse()

	raw, err := os.ReadFile(*inPath)
	if err != nil {
		fatal(err)
	}

	var doc layoutDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		fatal(fmt.Errorf("%s: %w", *inPath, err))
	}

	values, err := resolve(doc)
	if err != nil {
		fatal(fmt.Errorf("%s: %w", *inPath, err))
	}

	out, err := os.Create(*outPath)
	if err != nil {
		fatal(err)
	}
	defer out.Close()

	tmpl := template.Must(template.New("layout").Parse(fileTemplate))
	if err := tmpl.Execute(out, renderCtx{Package: *pkg, Doc: doc, Values: values}); err != nil {
		fatal(err)
	}
}

func resolve(doc layoutDoc) (map[string]uint64, error) {
	values := make(map[string]uint64)

	scalars := map[string]string{
		"ram_base":     doc.RAM.Base,
		"ram_size":     doc.RAM.Size,
		"load_address": doc.LoadAddress,
		"kload_begin":  doc.KloadBegin,
		"stack_end":    doc.StackEnd,
	}
	for name, raw := range scalars {
		v, err := parseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		values[name] = v
	}

	for _, name := range []string{"text", "rodata", "data"} {
		sec, ok := doc.Sections[name]
		if !ok {
			return nil, fmt.Errorf("missing section %q", name)
		}
		begin, err := parseAddr(sec.Begin)
		if err != nil {
			return nil, fmt.Errorf("%s.begin: %w", name, err)
		}
		values[name+"_begin"] = begin

		// The data section's end is the stack end, declared separately.
		if name == "data" {
			continue
		}
		end, err := parseAddr(sec.End)
		if err != nil {
			return nil, fmt.Errorf("%s.end: %w", name, err)
		}
		values[name+"_end"] = end
	}

	return values, nil
}

func parseAddr(s string) (uint64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty address")
	}
	s = strings.TrimPrefix(s, "0x")
	return strconv.ParseUint(s, 16, 64)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "mkhandoff:", err)
	os.Exit(1)
}
