package toolchain

import (
	"context"
	"path/filepath"
	"text/template"

	"github.com/appkins-org/go-socbuild/internal/soc"
	"github.com/appkins-org/go-socbuild/internal/socerr"
)

var (
	cstTpl = template.Must(template.New("cst").Parse(
		`// Generated by socbuild, do not edit.
{{- range .Groups}}

// {{.Signal}}
{{- range .Ports}}
IO_LOC "{{.Name}}" {{.Pin}};
{{- if or .IOStandard .Misc}}
IO_PORT "{{.Name}}"{{with .IOStandard}} IO_TYPE={{.}}{{end}}{{range .Misc}} {{.Key}}={{.Value}}{{end}};
{{- end}}
{{- end}}
{{- end}}
`))

	sdcTpl = template.Must(template.New("sdc").Parse(
		`// Generated by socbuild, do not edit.
{{- range .Clocks}}
create_clock -name {{.Name}} -period {{.Period}} [get_ports {{printf "{%s}" .Port}}]
{{- end}}
{{- range .FalsePaths}}
set_clock_groups -asynchronous -group [get_clocks {{printf "{%s}" .From}}] -group [get_clocks {{printf "{%s}" .To}}]
{{- end}}
`))

	gowinTpl = template.Must(template.New("gowin").Parse(
		`# Generated by socbuild, do not edit.
set_device -name {{.Family}} {{.Device}}
add_file {{.Name}}.cst
add_file {{.Name}}.sdc
add_file {{.Name}}.v
set_option -top_module {{.Name}}
set_option -output_base_name {{.Name}}
set_option -use_mspi_as_gpio 1
set_option -use_sspi_as_gpio 1
set_option -use_ready_as_gpio 1
set_option -use_done_as_gpio 1
set_option -rw_check_on_ram 1
{{- range .Commands}}
{{.}}
{{- end}}
{{- range .BitstreamCommands}}
{{.}}
{{- end}}
run all
`))
)

// Gowin is the Gowin EDA flow driven through gw_sh.
type Gowin struct {
	Runner Runner
	Binary string
}

func (g *Gowin) Name() string { return "gowin" }

func (g *Gowin) Files(d *soc.Design, p Platform) ([]File, error) {
	name, err := buildName(d)
	if err != nil {
		return nil, err
	}
	device := d.Device
	if device == "" {
		device = p.Device
	}
	if device == "" || p.Family == "" {
		return nil, socerr.New(socerr.InvalidOption, name, "gowin needs a device and a family")
	}

	cst, err := render(cstTpl, map[string]any{"Groups": portGroups(d)})
	if err != nil {
		return nil, err
	}
	sdc, err := render(sdcTpl, map[string]any{
		"Clocks":     clockLines(d),
		"FalsePaths": falsePaths(d),
	})
	if err != nil {
		return nil, err
	}
	tcl, err := render(gowinTpl, map[string]any{
		"Name":              name,
		"Device":            device,
		"Family":            p.Family,
		"Commands":          append(append([]string(nil), p.Commands...), d.Commands...),
		"BitstreamCommands": p.BitstreamCommands,
	})
	if err != nil {
		return nil, err
	}
	return []File{
		{Name: name + ".cst", Data: cst},
		{Name: name + ".sdc", Data: sdc},
		{Name: name + ".tcl", Data: tcl},
	}, nil
}

func (g *Gowin) Build(ctx context.Context, dir, buildName string) error {
	_, err := g.Runner.Run(ctx, dir, g.Binary, buildName+".tcl")
	return err
}

// Bitstream returns the same .fs file for both modes; the programmer picks
// the destination.
func (g *Gowin) Bitstream(dir, buildName string, _ Mode) string {
	return filepath.Join(dir, "impl", "pnr", buildName+".fs")
}
