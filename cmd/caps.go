package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/gpuenc/internal/config"
	"github.com/smazurov/gpuenc/internal/driver"
	"github.com/smazurov/gpuenc/internal/encoder"
	"github.com/smazurov/gpuenc/internal/logging"
	"github.com/smazurov/gpuenc/internal/nvenc"
	"github.com/spf13/cobra"
)

// CapsReport is what the caps command prints.
type CapsReport struct {
	Loader       string             `toml:"loader" json:"loader"`
	Capabilities nvenc.Capabilities `toml:"capabilities" json:"capabilities"`
	Recommended  nvenc.Config       `toml:"recommended" json:"recommended"`
	Formats      []encoder.Info     `toml:"formats" json:"formats"`
}

// CreateCapsCmd creates the caps command.
func CreateCapsCmd(opts *config.Options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "caps",
		Short: "Print encoder capabilities",
		Long: `Loads the configured driver backend, queries the encoder device and prints its capabilities, ` +
			`the recommended session configuration and the available output formats. The driver is unloaded before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, err := opts.DriverLoader()
			if err != nil {
				return err
			}
			report := buildCapsReport(driver.NewRegistry(loader, logging.GetLogger("driver")))
			return writeCapsReport(cmd.OutOrStdout(), report, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, json, toml)")
	return cmd
}

func buildCapsReport(registry *driver.Registry) CapsReport {
	factory := encoder.NewFactory(encoder.FactoryOptions{Registry: registry})
	caps := nvenc.GetCapabilities(registry)

	formats := factory.AvailableOutputFormats()
	infos := make([]encoder.Info, 0, len(formats))
	for _, f := range formats {
		infos = append(infos, factory.EncoderInfo(f))
	}

	return CapsReport{
		Loader:       registry.Name(),
		Capabilities: caps,
		Recommended:  nvenc.RecommendedConfig(caps),
		Formats:      infos,
	}
}

func writeCapsReport(w io.Writer, report CapsReport, output string) error {
	switch output {
	case "toml":
		return toml.NewEncoder(w).Encode(report)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "text", "":
		return writeCapsText(w, report)
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func writeCapsText(w io.Writer, r CapsReport) error {
	c := r.Capabilities
	var sb strings.Builder
	fmt.Fprintf(&sb, "Driver:         %s\n", r.Loader)
	if !c.Supported {
		sb.WriteString("Supported:      no\n")
		_, err := io.WriteString(w, sb.String())
		return err
	}

	codecs := make([]string, len(c.Codecs))
	for i, codec := range c.Codecs {
		codecs[i] = string(codec)
	}
	colors := make([]string, len(c.ColorFormats))
	for i, cf := range c.ColorFormats {
		colors[i] = string(cf)
	}

	fmt.Fprintf(&sb, "Device:         %s\n", c.DeviceName)
	fmt.Fprintf(&sb, "Driver version: %s (API %s)\n", c.DriverVersion, c.APIVersion)
	fmt.Fprintf(&sb, "Codecs:         %s\n", strings.Join(codecs, ", "))
	fmt.Fprintf(&sb, "Color formats:  %s\n", strings.Join(colors, ", "))
	fmt.Fprintf(&sb, "Max resolution: %dx%d\n", c.MaxWidth, c.MaxHeight)
	fmt.Fprintf(&sb, "Max bitrate:    %d kbps\n", c.MaxBitrateKbps)
	fmt.Fprintf(&sb, "Max B-frames:   %d\n", c.MaxBFrames)
	fmt.Fprintf(&sb, "Max sessions:   %d\n", c.MaxSessions)
	fmt.Fprintf(&sb, "Recommended:    %s\n", r.Recommended.String())
	sb.WriteString("Formats:\n")
	for _, f := range r.Formats {
		fmt.Fprintf(&sb, "  %-16s %s\n", f.Format, f.DisplayName)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
