// Command matterd-light runs a Matter On/Off Light device.
//
// It can be commissioned and controlled by any Matter controller (e.g.
// chip-tool) over UDP port 5540.
//
// Usage:
//
//	matterd-light [options]
//
// Options:
//
//	-port          UDP port (default: 5540)
//	-discriminator 12-bit discriminator (default: 3840)
//	-passcode      Setup passcode (default: 20202021)
//	-name          Device name (default: "Matter Light")
//	-vendor        Vendor id (default: 0xFFF1)
//	-product       Product id (default: 0x8001)
//	-verbose       Enable debug logging
package main

import (
	"log"

	"github.com/vellumhub/matterd/examples/common"
	"github.com/vellumhub/matterd/examples/light"
)

func main() {
	opts := common.ParseFlags()

	device, err := light.NewDevice(opts)
	if err != nil {
		log.Fatalf("create light device: %v", err)
	}

	if err := common.RunDevice(device.Node); err != nil {
		log.Fatalf("device error: %v", err)
	}
}
