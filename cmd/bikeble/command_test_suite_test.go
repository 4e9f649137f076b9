package main

import (
	"context"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/bikeble/internal/device"
	"github.com/srg/bikeble/internal/device/goble"
	"github.com/srg/bikeble/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// Test device address for consistent fake peripheral identification
const TestDeviceAddress = "aa:bb:cc:dd:ee:01"

const (
	batteryChargeUUID = "105c6761-74bf-4ffe-94ea-f8ba79f20615"
	lightsModeUUID    = "105c6761-74bf-4ffe-94ea-f8ba79f20611"
)

// CommandTestSuite runs the command tree against a fake bike peripheral.
type CommandTestSuite struct {
	suite.Suite
	Fake   *testutils.FakeTransport
	Dialed []goble.ConnectOptions

	prevConnector func(context.Context, goble.ConnectOptions, *logrus.Logger) (device.Transport, error)
	prevNoColor   bool
}

func (s *CommandTestSuite) SetupSuite() {
	s.prevNoColor = color.NoColor
	color.NoColor = true
}

func (s *CommandTestSuite) TearDownSuite() {
	color.NoColor = s.prevNoColor
}

func (s *CommandTestSuite) SetupTest() {
	s.Fake = testutils.NewBikePeripheral().Build()
	s.Dialed = nil
	s.prevConnector = connector
	connector = func(_ context.Context, opts goble.ConnectOptions, _ *logrus.Logger) (device.Transport, error) {
		s.Dialed = append(s.Dialed, opts)
		return s.Fake, nil
	}
}

func (s *CommandTestSuite) TearDownTest() {
	connector = s.prevConnector
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.ExecuteCommandContext(context.Background(), &testutils.SyncBuffer{}, args...)
}

// ExecuteCommandContext runs the root command with ctx, writing into out.
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, out *testutils.SyncBuffer, args ...string) (string, error) {
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// TempPath returns a path inside a per-test temp dir
func (s *CommandTestSuite) TempPath(name string) string {
	return filepath.Join(s.T().TempDir(), name)
}
