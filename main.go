package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the command line options.
type AppOptions struct {
	ConfigFile         string
	ReplayFile         string
	OutputFile         string
	RenderFormat       string
	VectorFormat       string
	GeoJSONFile        string
	LogLevel           string
	WriteDefaultConfig string
	GridSpacing        float64
	HttpPort           int
	RenderOnly         bool
	MqttMode           bool
	HttpMode           bool
}

// Application is what run dispatches to.
type Application interface {
	ApplyOptions(opts AppOptions)
	WriteDefaultConfig() error
	RunReplay() error
	RunRender() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, app Application) error {
	fs := flag.NewFlagSet("roverbrain", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.ReplayFile, "replay", "", "Replay a JSON Lines log through the core and exit")
	fs.BoolVar(&opts.RenderOnly, "render", false, "Render the landmark map and exit (after -replay if given)")
	fs.StringVar(&opts.OutputFile, "output", "rover-map.png", "Output file for -render")
	fs.StringVar(&opts.RenderFormat, "format", "raster", "Render format: raster, vector, or both")
	fs.StringVar(&opts.VectorFormat, "vector-format", "svg", "Vector output format: svg or png")
	fs.Float64Var(&opts.GridSpacing, "grid-spacing", 1.0, "Grid line spacing in meters")
	fs.StringVar(&opts.GeoJSONFile, "export-geojson", "", "Write landmarks and pose as GeoJSON to this file")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Log level override: debug, info, warn, error")
	fs.StringVar(&opts.WriteDefaultConfig, "write-default-config", "", "Write a default configuration file to this path and exit")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run the MQTT service")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable the HTTP server")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (default from config, 4080)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "roverbrain version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.WriteDefaultConfig != "":
		return app.WriteDefaultConfig()
	case opts.ReplayFile != "":
		return app.RunReplay()
	case opts.RenderOnly || opts.GeoJSONFile != "":
		return app.RunRender()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "roverbrain service starting...")
	fmt.Fprintln(out, "Use -mqtt to run the MQTT service")
	fmt.Fprintln(out, "Use -http to serve state, maps and metrics over HTTP")
	fmt.Fprintln(out, "Use -mqtt -http to run both together")
	fmt.Fprintln(out, "Use -replay=FILE to feed a recorded JSON Lines log through the core")
	fmt.Fprintln(out, "Use -render to draw the cached landmark map")
	fmt.Fprintln(out, "Use -write-default-config=FILE to start a configuration")
	return nil
}
