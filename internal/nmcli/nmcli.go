package nmcli

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/thatsimonsguy/pai-supervisor/internal/model"
)

// DeviceState is the subset of `nmcli device show` the supervisor cares about.
type DeviceState struct {
	StateCode  int    // NetworkManager device state, 100 is "connected"
	StateText  string // e.g. "connected", "disconnected", "connecting (configuring)"
	Connection string // active connection profile name, "" when none
	IPv4       string // first IPv4 address without prefix length
	HWAddr     string
}

const stateActivated = 100

func (d DeviceState) Connected() bool {
	return d.StateCode == stateActivated
}

// run executes nmcli with args and returns the combined output.
// Tests replace it to feed canned output.
var run = func(args ...string) ([]byte, error) {
	cmd := exec.Command("nmcli", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("nmcli %s failed: %w (output: %s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

var stateRegex = regexp.MustCompile(`^(\d+)\s*\((.*)\)$`)

// Device returns the current state of iface.
func Device(iface string) (DeviceState, error) {
	out, err := run("-t", "-f", "GENERAL.STATE,GENERAL.CONNECTION,GENERAL.HWADDR,IP4.ADDRESS", "device", "show", iface)
	if err != nil {
		return DeviceState{}, err
	}
	return parseDeviceOutput(bytes.NewReader(out))
}

func parseDeviceOutput(r io.Reader) (DeviceState, error) {
	var state DeviceState
	seenState := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := splitTerse(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		key, value := fields[0], strings.Join(fields[1:], ":")

		switch {
		case key == "GENERAL.STATE":
			m := stateRegex.FindStringSubmatch(value)
			if m == nil {
				return state, fmt.Errorf("unexpected device state %q", value)
			}
			state.StateCode, _ = strconv.Atoi(m[1])
			state.StateText = m[2]
			seenState = true
		case key == "GENERAL.CONNECTION":
			state.Connection = value
		case key == "GENERAL.HWADDR":
			state.HWAddr = value
		case strings.HasPrefix(key, "IP4.ADDRESS") && state.IPv4 == "":
			state.IPv4 = strings.SplitN(value, "/", 2)[0]
		}
	}
	if err := scanner.Err(); err != nil {
		return state, fmt.Errorf("error scanning nmcli output: %w", err)
	}
	if !seenState {
		return state, fmt.Errorf("nmcli output has no GENERAL.STATE")
	}
	return state, nil
}

// Connect asks NetworkManager to join ssid on iface without waiting for activation.
func Connect(iface string, creds model.Credentials) error {
	_, err := run("--wait", "0", "device", "wifi", "connect", creds.SSID, "password", creds.Password, "ifname", iface)
	return err
}

// StartHotspot brings up an access point profile named conName on iface.
func StartHotspot(iface, conName, ssid, passphrase string) error {
	_, err := run("device", "wifi", "hotspot", "ifname", iface, "con-name", conName, "ssid", ssid, "password", passphrase)
	return err
}

func StopConnection(conName string) error {
	_, err := run("connection", "down", conName)
	return err
}

// Scan lists visible networks on iface, strongest first as nmcli reports them.
func Scan(iface string) ([]model.Network, error) {
	out, err := run("-t", "-f", "SSID,SIGNAL", "device", "wifi", "list", "ifname", iface, "--rescan", "auto")
	if err != nil {
		return nil, err
	}
	return parseScanOutput(bytes.NewReader(out))
}

func parseScanOutput(r io.Reader) ([]model.Network, error) {
	var networks []model.Network
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := splitTerse(scanner.Text())
		if len(fields) != 2 || fields[0] == "" {
			continue
		}
		// the same SSID shows up once per access point
		if seen[fields[0]] {
			continue
		}
		signal, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		seen[fields[0]] = true
		networks = append(networks, model.Network{SSID: fields[0], Signal: signal})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning nmcli output: %w", err)
	}
	return networks, nil
}

// splitTerse splits a terse (-t) nmcli line on unescaped colons.
func splitTerse(line string) []string {
	var fields []string
	var cur strings.Builder
	escaped := false
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, cur.String())
}

// ActiveSignal returns the signal strength (percent) of the network iface is joined to.
func ActiveSignal(iface string) (int, error) {
	out, err := run("-t", "-f", "IN-USE,SIGNAL", "device", "wifi", "list", "ifname", iface, "--rescan", "no")
	if err != nil {
		return 0, err
	}
	return parseActiveSignal(bytes.NewReader(out))
}

func parseActiveSignal(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := splitTerse(scanner.Text())
		if len(fields) != 2 || fields[0] != "*" {
			continue
		}
		signal, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, fmt.Errorf("unexpected signal %q", fields[1])
		}
		return signal, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("error scanning nmcli output: %w", err)
	}
	return 0, fmt.Errorf("no active network on interface")
}
