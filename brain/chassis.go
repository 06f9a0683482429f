package brain

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/kwv/roverbrain/internal/log"
)

// Sub-controller command codes.
const (
	chassisSpeedCmd = 1
	chassisTypeCmd  = 900
)

// SerialMode converts the chassis options into the mode go.bug.st/serial
// expects when opening the port.
func (c ChassisConfig) SerialMode() (*serial.Mode, error) {
	if c.BaudRate <= 0 {
		return nil, fmt.Errorf("invalid baud rate %d", c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return nil, fmt.Errorf("invalid data bits %d: must be between 5 and 8", c.DataBits)
	}

	mode := &serial.Mode{BaudRate: c.BaudRate, DataBits: c.DataBits}
	switch c.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", c.StopBits)
	}

	switch strings.ToUpper(strings.TrimSpace(c.Parity)) {
	case "N", "NONE":
		mode.Parity = serial.NoParity
	case "E", "EVEN":
		mode.Parity = serial.EvenParity
	case "O", "ODD":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q: expected N, E, or O", c.Parity)
	}
	return mode, nil
}

type chassisSpeed struct {
	T int     `json:"T"`
	L float64 `json:"L"`
	R float64 `json:"R"`
}

type chassisType struct {
	T      int `json:"T"`
	Main   int `json:"main"`
	Module int `json:"module"`
}

// Chassis writes wheel commands to the drivetrain sub-controller, one JSON
// object per line.
type Chassis struct {
	mu    sync.Mutex
	port  io.WriteCloser
	enc   *json.Encoder
	scale float64
}

// NewChassis wraps an already open line. scale converts unit wheel commands
// to m/s.
func NewChassis(port io.WriteCloser, scale float64) *Chassis {
	if scale <= 0 {
		scale = DefaultChassisSpeedScale
	}
	return &Chassis{port: port, enc: json.NewEncoder(port), scale: scale}
}

// OpenChassis opens the configured serial port and selects the rover chassis
// type on the sub-controller.
func OpenChassis(cfg ChassisConfig) (*Chassis, error) {
	mode, err := cfg.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}

	c := NewChassis(port, cfg.SpeedScale)
	if err := c.Init(); err != nil {
		_ = port.Close()
		return nil, err
	}
	log.Info("chassis connected", "port", cfg.Port, "baud", cfg.BaudRate)
	return c, nil
}

// Init selects the two-wheel rover chassis with no add-on module.
func (c *Chassis) Init() error {
	return c.send(chassisType{T: chassisTypeCmd, Main: 2, Module: 0})
}

// SetWheels sends one speed command.
func (c *Chassis) SetWheels(w WheelSpeeds) error {
	return c.send(chassisSpeed{
		T: chassisSpeedCmd,
		L: roundMillis(w.Left * c.scale),
		R: roundMillis(w.Right * c.scale),
	})
}

// Stop zeroes both sides.
func (c *Chassis) Stop() error {
	return c.SetWheels(WheelSpeeds{})
}

// Close stops the wheels and releases the port.
func (c *Chassis) Close() error {
	if err := c.Stop(); err != nil {
		log.Warn("chassis stop on close", "error", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port.Close()
}

func (c *Chassis) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(v); err != nil {
		return fmt.Errorf("chassis write: %w", err)
	}
	return nil
}

func roundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}
