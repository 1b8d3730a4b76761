// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"net"
	"testing"
)

func TestResolveInterfacesWithNoIndicesReturnsOnlyUpMulticastInterfaces(t *testing.T) {
	got, err := resolveInterfaces(nil)
	if err != nil {
		t.Fatalf("resolveInterfaces(nil): %v", err)
	}
	for _, ifc := range got {
		if ifc.Flags&net.FlagUp == 0 {
			t.Fatalf("interface %q is not up", ifc.Name)
		}
		if ifc.Flags&net.FlagMulticast == 0 {
			t.Fatalf("interface %q does not support multicast", ifc.Name)
		}
	}
}

func TestResolveInterfacesRejectsUnknownIndex(t *testing.T) {
	if _, err := resolveInterfaces([]int{1 << 20}); err == nil {
		t.Fatal("expected an error for a nonexistent interface index")
	}
}
