// Package spi holds the interfaces a host application implements to
// integrate a provider.
package spi

import "github.com/gridmesh/gridmesh/internal/proto"

// Descriptor describes a provider to the host.
type Descriptor struct {
	ID          string
	Name        string
	Description string
	Models      []string
	Pricing     *proto.Pricing
}

// Registrar registers a provider with the host application. The core calls
// it once after the first successful authentication; the host integration
// itself lives outside this module.
type Registrar interface {
	RegisterProvider(d Descriptor) error
}
