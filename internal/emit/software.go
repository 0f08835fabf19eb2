package emit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/appkins-org/go-socbuild/internal/soc"
)

const banner = "Generated by socbuild, do not edit."

var (
	memHTpl = template.Must(template.New("mem.h").Funcs(funcs).Parse(
		`// {{.Banner}}
#ifndef __GENERATED_MEM_H
#define __GENERATED_MEM_H
{{range .Regions}}
#ifndef {{upper .Name}}_BASE
#define {{upper .Name}}_BASE {{hex .Origin}}L
#define {{upper .Name}}_SIZE {{hex .Size}}
#endif
{{end}}
#endif
`))

	socHTpl = template.Must(template.New("soc.h").Funcs(funcs).Parse(
		`// {{.Banner}}
#ifndef __GENERATED_SOC_H
#define __GENERATED_SOC_H
{{- range .Constants}}
#define {{upper .Name}}{{with .Value}} {{.}}{{end}}
{{- end}}
{{- range .IRQs}}
#define {{upper .Name}}_INTERRUPT {{.Line}}
{{- end}}

#endif
`))

	csrHTpl = template.Must(template.New("csr.h").Funcs(funcs).Parse(
		`// {{.Banner}}
#ifndef __GENERATED_CSR_H
#define __GENERATED_CSR_H

#ifndef CSR_BASE
#define CSR_BASE {{hex .Base}}L
#endif
{{range .CSRs}}
#define CSR_{{upper .Name}}_BASE (CSR_BASE + {{hex .Offset}}L)
{{- end}}

#endif
`))

	funcs = template.FuncMap{
		"upper": strings.ToUpper,
		"hex":   func(v uint64) string { return fmt.Sprintf("0x%08x", v) },
	}
)

type csrLine struct {
	Name   string
	Offset uint64
}

func csrBase(d *soc.Design) uint64 {
	if r, ok := d.Region("csr"); ok {
		return r.Origin
	}
	return 0
}

func renderTemplate(t *template.Template, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", t.Name(), err)
	}
	return buf.Bytes(), nil
}

func memHeader(d *soc.Design) ([]byte, error) {
	return renderTemplate(memHTpl, map[string]any{"Banner": banner, "Regions": d.Regions})
}

func socHeader(d *soc.Design) ([]byte, error) {
	return renderTemplate(socHTpl, map[string]any{"Banner": banner, "Constants": d.Constants, "IRQs": d.IRQs})
}

func csrHeader(d *soc.Design) ([]byte, error) {
	base := csrBase(d)
	lines := make([]csrLine, 0, len(d.CSRs))
	for _, b := range d.CSRs {
		lines = append(lines, csrLine{Name: b.Name, Offset: b.Origin - base})
	}
	return renderTemplate(csrHTpl, map[string]any{"Banner": banner, "Base": base, "CSRs": lines})
}

func regionType(r soc.Region) string {
	t := "io"
	if r.Cached {
		t = "cached"
	}
	if r.Linker {
		t += "+linker"
	}
	return t
}

// csrCSV renders the CSR map in the csr_base/constant/memory_region format
// the SoC software tools read.
func csrCSV(d *soc.Design) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("#--------------------------------------------------------------------------------\n")
	buf.WriteString("# " + banner + "\n")
	buf.WriteString("#--------------------------------------------------------------------------------\n")
	w := csv.NewWriter(&buf)
	for _, b := range d.CSRs {
		w.Write([]string{"csr_base", b.Name, fmt.Sprintf("0x%08x", b.Origin), "", ""})
	}
	for _, c := range d.Constants {
		v := c.Value
		if v == "" {
			v = "None"
		}
		w.Write([]string{"constant", strings.ToLower(c.Name), v, "", ""})
	}
	for _, r := range d.Regions {
		w.Write([]string{"memory_region", r.Name, fmt.Sprintf("0x%08x", r.Origin), strconv.FormatUint(r.Size, 10), regionType(r)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type memoryJSON struct {
	Base uint64 `json:"base"`
	Size uint64 `json:"size"`
	Type string `json:"type"`
}

// csrJSON renders the same map as csrCSV as a JSON document.
func csrJSON(d *soc.Design) ([]byte, error) {
	doc := struct {
		CSRBases   map[string]uint64     `json:"csr_bases"`
		Constants  map[string]any        `json:"constants"`
		Memories   map[string]memoryJSON `json:"memories"`
		Interrupts map[string]int        `json:"interrupts,omitempty"`
	}{
		CSRBases:  map[string]uint64{},
		Constants: map[string]any{},
		Memories:  map[string]memoryJSON{},
	}
	for _, b := range d.CSRs {
		doc.CSRBases[b.Name] = b.Origin
	}
	for _, c := range d.Constants {
		doc.Constants[strings.ToLower(c.Name)] = constantValue(c.Value)
	}
	for _, r := range d.Regions {
		doc.Memories[r.Name] = memoryJSON{Base: r.Origin, Size: r.Size, Type: regionType(r)}
	}
	if len(d.IRQs) > 0 {
		doc.Interrupts = map[string]int{}
		for _, i := range d.IRQs {
			doc.Interrupts[i.Name] = i.Line
		}
	}
	return marshal(doc)
}

// constantValue keeps integers numeric and flags null.
func constantValue(v string) any {
	if v == "" {
		return nil
	}
	if n, err := strconv.ParseInt(v, 0, 64); err == nil {
		return n
	}
	return v
}

func marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
