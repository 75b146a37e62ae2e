package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Public resolvers queried when the system resolver fails. Some captive or
// broken local configurations resolve nothing while the network itself works.
var publicDNS = []string{
	"1.1.1.1",        // Cloudflare
	"1.0.0.1",        // Cloudflare
	"8.8.8.8",        // Google
	"8.8.4.4",        // Google
	"9.9.9.9",        // Quad9
	"208.67.222.222", // Cisco OpenDNS
}

// Lookup resolves a hostname, preferring the system resolver and falling back
// to a race across public resolvers.
func Lookup(address string) (string, error) {
	ip, err := systemLookup(address)
	if err == nil && ip != "" {
		return ip, nil
	}
	return raceLookup(address)
}

func systemLookup(address string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ips, err := new(net.Resolver).LookupHost(ctx, address)
	if err != nil {
		return "", err
	}
	return pickIP(ips)
}

// raceLookup queries every public resolver at once and returns the first
// answer.
func raceLookup(address string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	results := make(chan result, len(publicDNS))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, server := range publicDNS {
		go func(server string) {
			ip, err := serverLookup(ctx, address, server)
			results <- result{ip: ip, err: err}
		}(server)
	}

	for range publicDNS {
		select {
		case res := <-results:
			if res.err == nil && res.ip != "" {
				return res.ip, nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("dns race timed out resolving %s", address)
		}
	}

	return "", fmt.Errorf("failed to resolve %s: all public resolvers failed", address)
}

func serverLookup(ctx context.Context, address, server string) (string, error) {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return new(net.Dialer).DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}

	ips, err := r.LookupHost(ctx, address)
	if err != nil {
		return "", err
	}
	return pickIP(ips)
}

// pickIP prefers IPv4 answers.
func pickIP(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", errors.New("no IP addresses found")
	}
	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}
