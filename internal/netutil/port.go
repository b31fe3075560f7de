// Package netutil picks a listen address for the control API.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// DefaultScan is how many ports after the preferred one NextPorts offers.
const DefaultScan = 10

// ErrNoBindAddr is returned when neither the preferred address nor any
// fallback can be listened on.
var ErrNoBindAddr = errors.New("no available bind address for the control API")

// SelectBindAddr returns preferred when it is free. Otherwise, with
// autoFallback set, it returns the first free candidate; an empty
// candidate list falls back to the ports right after preferred.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	if preferred != "" {
		ok, err := IsAddrAvailable(preferred)
		if err != nil {
			return "", err
		}
		if ok {
			return preferred, nil
		}
		if !autoFallback {
			return "", fmt.Errorf("bind address in use: %s", preferred)
		}
		if len(candidates) == 0 {
			next, err := NextPorts(preferred, DefaultScan)
			if err != nil {
				return "", err
			}
			candidates = next
		}
	}

	for _, addr := range candidates {
		ok, err := IsAddrAvailable(addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
	}
	return "", ErrNoBindAddr
}

// NextPorts lists the n addresses on the same host following addr's port.
func NextPorts(addr string, n int) ([]string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parse bind address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return nil, fmt.Errorf("parse bind address %q: bad port", addr)
	}
	out := make([]string, 0, n)
	for p := port + 1; p <= port+n && p <= 65535; p++ {
		out = append(out, net.JoinHostPort(host, strconv.Itoa(p)))
	}
	return out, nil
}

// IsAddrAvailable returns true when an address can be listened on.
func IsAddrAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}
