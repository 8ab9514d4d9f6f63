package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/blinkup/internal/device"
	"github.com/srg/blinkup/internal/devicefactory"
	"github.com/srg/blinkup/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent fake device identification
const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:01"
	TestDeviceAddress2 = "AA:BB:CC:DD:EE:02"
)

// CommandTestSuite runs commands through rootCmd against a FakeAdapter.
type CommandTestSuite struct {
	suite.Suite
	adapter        *testutils.FakeAdapter
	configPath     string
	credentialsDir string
	original       func(string, *logrus.Logger) (device.Adapter, error)
}

func (s *CommandTestSuite) SetupSuite() {
	s.original = devicefactory.AdapterFactory
}

func (s *CommandTestSuite) TearDownSuite() {
	devicefactory.AdapterFactory = s.original
}

func (s *CommandTestSuite) SetupTest() {
	resetFlags()

	dir := s.T().TempDir()
	s.credentialsDir = filepath.Join(dir, "credentials")
	s.configPath = filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf(`log_level: error
grace_delay: 0s
connect_timeout: 2s
pin_retry:
  max_attempts: 3
  delay: 1ms
credentials:
  dir: %s
`, s.credentialsDir)
	s.Require().NoError(os.WriteFile(s.configPath, []byte(cfg), 0o600))

	s.T().Setenv("BLINKUP_API_KEY", "")
	s.UsePeripherals(testutils.ImpPeripheral(TestDeviceAddress1, "imp-1").Build())
}

// AppendConfig adds YAML to the test config file.
func (s *CommandTestSuite) AppendConfig(yaml string) {
	f, err := os.OpenFile(s.configPath, os.O_APPEND|os.O_WRONLY, 0o600)
	s.Require().NoError(err)
	defer f.Close()
	_, err = f.WriteString(yaml)
	s.Require().NoError(err)
}

// UsePeripherals makes every command see the given fake peripherals.
func (s *CommandTestSuite) UsePeripherals(peripherals ...*testutils.FakePeripheral) {
	s.adapter = testutils.NewFakeAdapter(peripherals...)
	devicefactory.AdapterFactory = func(string, *logrus.Logger) (device.Adapter, error) {
		return s.adapter, nil
	}
}

// Execute runs rootCmd with args and the test config, feeding stdin.
func (s *CommandTestSuite) Execute(stdin string, args ...string) (string, error) {
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append(args, "--config", s.configPath))
	defer rootCmd.SetIn(nil)

	err := rootCmd.Execute()
	return out.String(), err
}

// Writes renders the writes seen by the fake device, in order.
func (s *CommandTestSuite) Writes(address string) []string {
	var out []string
	for _, op := range s.adapter.Writes(address) {
		out = append(out, op.String())
	}
	return out
}

// resetFlags restores every command flag variable to its zero value.
func resetFlags() {
	scanDuration, scanFormat, scanAllowList, scanBlockList = 0, "", nil, nil
	infoFormat, infoOpen, infoCopy = "", false, false
	provisionSSID, provisionPassword, provisionHidden = "", "", false
	provisionAPIKey, provisionNoEnroll, provisionNoStore, provisionFormat = "", false, false, ""
	provisionOpen, provisionCopy = false, false
	networksFormat, clearFormat = "", ""
}
