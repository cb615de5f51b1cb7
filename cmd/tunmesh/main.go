/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

// Command tunmesh is the point-to-multipoint tunnel daemon: it opens a TUN
// interface, binds a listening UDP socket, and forwards IPv4 packets
// between them according to the peers in its configuration file.
package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caetun/tunmesh/internal/config"
	"github.com/caetun/tunmesh/internal/device"
	"github.com/caetun/tunmesh/internal/tun"
	"github.com/caetun/tunmesh/internal/wire"
)

func deviceName(s string) (wire.Name, error) {
	return wire.NewName(s)
}

const (
	exitSetupSuccess = 0
	exitSetupFailed  = 1
)

func main() {
	var confPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:           "tunmesh",
		Short:         "Run the tunmesh point-to-multipoint tunnel daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(confPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&confPath, "conf", "c", "", "path to the configuration file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: silent, error, info, or debug")
	cmd.MarkFlagRequired("conf")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tunmesh:", err)
		os.Exit(exitSetupFailed)
	}
}

func parseLogLevel(s string) int {
	switch strings.ToLower(s) {
	case "silent":
		return device.LogLevelSilent
	case "error":
		return device.LogLevelError
	case "debug":
		return device.LogLevelDebug
	default:
		return device.LogLevelInfo
	}
}

// tunName derives the interface name from the config file's basename, per
// spec: the daemon has no separate --name flag.
func tunName(confPath string) string {
	base := filepath.Base(confPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func run(confPath, logLevelStr string) error {
	ifaceName := tunName(confPath)
	log := device.NewLogger(parseLogLevel(logLevelStr), ifaceName)

	raw, err := os.ReadFile(confPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", confPath, err)
	}
	conf, err := config.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", confPath, err)
	}

	tunDev, err := tun.CreateTUN(ifaceName)
	if err != nil {
		return fmt.Errorf("creating tun device: %w", err)
	}

	log.Infof("interface %s: address %s (assignment is left to the operator/platform tooling)",
		ifaceName, conf.Interface.Address)

	dev, err := device.NewDevice(tunDev, device.Config{
		Name:             conf.Interface.Name,
		ListenPort:       conf.Interface.ListenPort,
		UseConnectedPeer: true,
	}, log)
	if err != nil {
		return fmt.Errorf("creating device: %w", err)
	}
	defer dev.Close()

	for _, pc := range conf.Peers {
		name, err := deviceName(pc.Name)
		if err != nil {
			return fmt.Errorf("peer %q: %w", pc.Name, err)
		}

		var allowedIPs []*net.IPNet
		for _, c := range pc.AllowedIPs {
			allowedIPs = append(allowedIPs, &net.IPNet{
				IP:   c.IP,
				Mask: net.CIDRMask(c.PrefixLen, 32),
			})
		}

		if _, err := dev.AddPeer(name, allowedIPs, pc.Endpoint); err != nil {
			return fmt.Errorf("peer %q: %w", pc.Name, err)
		}
	}

	log.Infof("starting tunmesh on %s, listening on :%d with %d peer(s)",
		ifaceName, conf.Interface.ListenPort, len(conf.Peers))

	dev.Start()
	if err := dev.Run(); err != nil {
		return fmt.Errorf("device loop: %w", err)
	}

	os.Exit(exitSetupSuccess)
	return nil
}
