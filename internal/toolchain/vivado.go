package toolchain

import (
	"context"
	"path/filepath"
	"text/template"

	"github.com/appkins-org/go-socbuild/internal/soc"
	"github.com/appkins-org/go-socbuild/internal/socerr"
)

var (
	xdcTpl = template.Must(template.New("xdc").Parse(
		`# Generated by socbuild, do not edit.
# Design: {{.Name}}
# Board:  {{.Board}}
{{range .Groups}}
## {{.Signal}}
{{- range .Ports}}
set_property -dict { PACKAGE_PIN {{.Pin}}{{with .IOStandard}} IOSTANDARD {{.}}{{end}}{{range .Misc}} {{.Key}} {{.Value}}{{end}} } [get_ports {{printf "{%s}" .Name}}]
{{- end}}
{{end}}
# Clocks
{{- range .Clocks}}
create_clock -name {{.Name}} -period {{.Period}} [get_ports {{printf "{%s}" .Port}}]
{{- end}}
{{range .FalsePaths}}
set_clock_groups -group [get_clocks -include_generated_clocks -of [get_nets {{.From}}]] -group [get_clocks -include_generated_clocks -of [get_nets {{.To}}]] -asynchronous
{{- end}}
{{- with .Commands}}

# Platform
{{- range .}}
{{.}}
{{- end}}
{{- end}}
`))

	vivadoTpl = template.Must(template.New("vivado").Parse(
		`# Generated by socbuild, do not edit.
# Design: {{.Name}}
# Part:   {{.Device}}

create_project -force -name {{.Name}} -part {{.Device}}
set_msg_config -id {Common 17-55} -new_severity {Warning}
{{- if .PS}}

# Processing system
create_ip -vendor xilinx.com -name zynq_ultra_ps_e -module_name zynq_ultra_ps_e_0
{{- with .PSConfig}}
set_property -dict [list{{range $k, $v := .}} CONFIG.{{$k}} {{printf "{%s}" $v}}{{end}}] [get_ips zynq_ultra_ps_e_0]
{{- end}}
generate_target all [get_ips zynq_ultra_ps_e_0]
synth_ip [get_ips zynq_ultra_ps_e_0]
{{- end}}

read_verilog {{printf "{%s.v}" .Name}}
read_xdc {{printf "{%s.xdc}" .Name}}
set_property PROCESSING_ORDER EARLY [get_files {{printf "{%s.xdc}" .Name}}]

synth_design -directive default -top {{.Name}} -part {{.Device}}
report_timing_summary -file {{.Name}}_timing_synth.rpt
report_utilization -hierarchical -file {{.Name}}_utilization_hierarchical_synth.rpt
report_utilization -file {{.Name}}_utilization_synth.rpt
write_checkpoint -force {{.Name}}_synth.dcp

opt_design -directive default
place_design -directive default
report_utilization -file {{.Name}}_utilization_place.rpt
report_io -file {{.Name}}_io.rpt
write_checkpoint -force {{.Name}}_place.dcp

route_design -directive default
phys_opt_design -directive default
write_checkpoint -force {{.Name}}_route.dcp
report_route_status -file {{.Name}}_route_status.rpt
report_drc -file {{.Name}}_drc.rpt
report_timing_summary -datasheet -max_paths 10 -file {{.Name}}_timing.rpt
report_power -file {{.Name}}_power.rpt
{{- range .BitstreamCommands}}
{{.}}
{{- end}}

write_bitstream -force {{.Name}}.bit
{{- with .Flash}}
write_cfgmem -force -format bin -interface {{.Interface}} -size {{.SizeMB}} -loadbit "up 0x0 {{$.Name}}.bit" -file {{$.Name}}.bin
{{- end}}

quit
`))
)

type cfgmem struct {
	Interface string
	SizeMB    int
}

// Vivado is the AMD/Xilinx implementation flow.
type Vivado struct {
	Runner Runner
	Binary string
}

func (v *Vivado) Name() string { return "vivado" }

// Files renders <name>.xdc and build_<name>.tcl. The top-level netlist
// <name>.v is produced by the HDL generator.
func (v *Vivado) Files(d *soc.Design, p Platform) ([]File, error) {
	name, err := buildName(d)
	if err != nil {
		return nil, err
	}
	if d.Device == "" && p.Device == "" {
		return nil, socerr.New(socerr.InvalidOption, name, "no device part")
	}
	device := d.Device
	if device == "" {
		device = p.Device
	}

	xdc, err := render(xdcTpl, map[string]any{
		"Name":       name,
		"Board":      d.Board,
		"Groups":     portGroups(d),
		"Clocks":     clockLines(d),
		"FalsePaths": falsePaths(d),
		"Commands":   append(append([]string(nil), p.Commands...), d.Commands...),
	})
	if err != nil {
		return nil, err
	}

	data := map[string]any{
		"Name":              name,
		"Device":            device,
		"PS":                d.CPU == soc.CPUZynqMP,
		"PSConfig":          d.CPUConfig,
		"BitstreamCommands": p.BitstreamCommands,
		"Flash":             nil,
	}
	if p.FlashInterface != "" && p.FlashSizeMB > 0 {
		data["Flash"] = cfgmem{Interface: p.FlashInterface, SizeMB: p.FlashSizeMB}
	}
	tcl, err := render(vivadoTpl, data)
	if err != nil {
		return nil, err
	}
	return []File{
		{Name: name + ".xdc", Data: xdc},
		{Name: "build_" + name + ".tcl", Data: tcl},
	}, nil
}

func (v *Vivado) Build(ctx context.Context, dir, buildName string) error {
	_, err := v.Runner.Run(ctx, dir, v.Binary, "-mode", "batch", "-source", "build_"+buildName+".tcl")
	return err
}

func (v *Vivado) Bitstream(dir, buildName string, mode Mode) string {
	if mode == Flash {
		return filepath.Join(dir, buildName+".bin")
	}
	return filepath.Join(dir, buildName+".bit")
}
