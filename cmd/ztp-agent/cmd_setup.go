package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/ini.v1"
)

func newSetupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactively write the agent configuration file",
		Long: `Prompt for the agent identity, controller URL, and secrets, then write
the INI configuration. Secrets are read without terminal echo.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)

			agentID, err := prompt(reader, "Agent ID")
			if err != nil {
				return err
			}
			serverURL, err := prompt(reader, "Controller URL (https://...)")
			if err != nil {
				return err
			}
			hostname, err := prompt(reader, "Hostname (empty for OS hostname)")
			if err != nil {
				return err
			}
			subnet, err := prompt(reader, "Local subnet (empty for 192.168.1.0/24)")
			if err != nil {
				return err
			}

			token, err := promptSecret("Auth token")
			if err != nil {
				return err
			}
			agentPassword, err := promptSecret("Agent password (optional)")
			if err != nil {
				return err
			}

			file := ini.Empty()
			agentSec := file.Section("agent")
			agentSec.Key("agent_id").SetValue(agentID)
			agentSec.Key("auth_token").SetValue(token)
			if agentPassword != "" {
				agentSec.Key("agent_password").SetValue(agentPassword)
			}

			backendSec := file.Section("backend")
			backendSec.Key("server_url").SetValue(serverURL)

			networkSec := file.Section("network")
			if hostname != "" {
				networkSec.Key("hostname").SetValue(hostname)
			}
			if subnet != "" {
				networkSec.Key("subnet").SetValue(subnet)
			}

			if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
				return err
			}
			if err := file.SaveTo(configPath); err != nil {
				return err
			}
			// Token and password live in this file.
			if err := os.Chmod(configPath, 0600); err != nil {
				return err
			}

			fmt.Printf("Configuration written to %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "/etc/ruckus-ztp-edge-agent/config.ini", "Path to write")
	return cmd
}

func prompt(reader *bufio.Reader, label string) (string, error) {
	fmt.Printf("%s: ", label)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(secret)), nil
}
