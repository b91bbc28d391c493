package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/aegis/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Aegis Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.HTTP.Listen = prompt(scanner, "HTTP listen address", cfg.HTTP.Listen)
		cfg.Backend.BaseURL = prompt(scanner, "Scoring backend URL", cfg.Backend.BaseURL)

		concurrent := prompt(scanner, "Rooms processed concurrently", strconv.Itoa(cfg.MaxConcurrent))
		if n, err := strconv.Atoi(concurrent); err == nil && n > 0 {
			cfg.MaxConcurrent = n
		}

		cfg.Relay.RedisURL = prompt(scanner, "Redis URL for multi-instance relay (optional)", cfg.Relay.RedisURL)
		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)

		targets := prompt(scanner, "Notification targets, comma separated (optional)", strings.Join(cfg.Notify.Targets, ","))
		cfg.Notify.Targets = splitList(targets)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
