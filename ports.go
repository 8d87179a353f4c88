package datalogger

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortDescriptor is one entry of the serial port listing.
type PortDescriptor struct {
	ID          string `json:"device_id"`
	Description string `json:"description"`
	HardwareID  string `json:"hardware_id"`
}

// USB-to-serial bridge chips used on the ESP32 boards. Matched case-sensitively.
var adapterSignatures = []string{"CP210", "CH340", "USB-SERIAL"}

// Looser lower-case set used when listing ports for the operator.
var listingSignatures = []string{"cp210", "ch340", "usb-serial", "silicon labs"}

// Resolve returns the id of the first descriptor whose description carries a
// known adapter signature. ok is false when nothing matched and the operator
// has to pick a port by hand.
func Resolve(descriptors []PortDescriptor) (id string, ok bool) {
	for _, d := range descriptors {
		for _, sig := range adapterSignatures {
			if strings.Contains(d.Description, sig) {
				return d.ID, true
			}
		}
	}
	return "", false
}

// LooksLikeTarget reports whether a description resembles the target board.
func LooksLikeTarget(description string) bool {
	lower := strings.ToLower(description)
	for _, sig := range listingSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

var getDetailedPortsList = enumerator.GetDetailedPortsList

// ListPorts enumerates the serial ports present on the host.
func ListPorts() ([]PortDescriptor, error) {
	ports, err := getDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	out := make([]PortDescriptor, 0, len(ports))
	for _, p := range ports {
		out = append(out, describePort(p))
	}
	return out, nil
}

func describePort(p *enumerator.PortDetails) PortDescriptor {
	d := PortDescriptor{ID: p.Name, Description: "n/a", HardwareID: "n/a"}
	if !p.IsUSB {
		return d
	}
	if p.Product != "" {
		d.Description = p.Product
	}
	hwid := fmt.Sprintf("USB VID:PID=%s:%s", strings.ToUpper(p.VID), strings.ToUpper(p.PID))
	if p.SerialNumber != "" {
		hwid += " SER=" + p.SerialNumber
	}
	d.HardwareID = hwid
	return d
}
