// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cloakmsg/cloak"
	"github.com/cloakmsg/cloak/config"
	"github.com/cloakmsg/cloak/fhe"
	"github.com/cloakmsg/cloak/ledger"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cloakcli",
	Short: "Cloak - confidential messaging over a public ledger",
	Long: `Cloak exchanges short text messages whose content is never visible in
plaintext outside sender and recipient, even though transport and storage are
a public ledger and an off-chain relay.

This CLI provides payload codec tools and a self-contained demo of the full
send / fetch / batch-decrypt flow.`,
	Version: fmt.Sprintf("%s (built %s)", version, buildDate),
}

func init() {
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(demoCmd)

	for _, cmd := range []*cobra.Command{encodeCmd, decodeCmd, demoCmd} {
		cmd.Flags().String(config.ConfigFileKey, "", "Optional JSON config file")
		cmd.Flags().String(config.LogLevelKey, config.DefaultLogLevel, "Log level")
		cmd.Flags().Int(config.WidthBytesKey, config.DefaultWidthBytes, "Payload width in bytes (8 or 32)")
		cmd.Flags().Uint64(config.ValidityDaysKey, config.DefaultValidityDays, "Capability validity window in days")
	}
	demoCmd.Flags().String(config.RedisURIKey, "", "Redis URI for a shared ledger (in-memory when empty)")

	encodeCmd.Flags().StringP("text", "t", "", "Text to encode")
	_ = encodeCmd.MarkFlagRequired("text")

	decodeCmd.Flags().StringP("payload", "p", "", "Payload (hex)")
	_ = decodeCmd.MarkFlagRequired("payload")

	demoCmd.Flags().StringP("text", "t", "hi", "Message text to send")
}

func buildConfig(cmd *cobra.Command) (config.Config, error) {
	v, err := config.BuildViper(cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	return config.NewConfig(v)
}

func buildLogger(cfg config.Config) (log.Logger, error) {
	logLevel, err := log.ToLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	return log.NewLogger(
		"cloakcli",
		*log.NewWrappedCore(
			logLevel,
			os.Stdout,
			log.JSON.ConsoleEncoder(),
		),
	), nil
}

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Encode text into a fixed-width payload",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}
		text, _ := cmd.Flags().GetString("text")

		payload, err := cloak.Encode(text, cfg.WidthBytes)
		if err != nil {
			return err
		}
		full := payload.Bytes32()
		fmt.Printf("%x\n", full[32-cfg.WidthBytes:])
		return nil
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode a fixed-width payload back into text",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}
		payloadHex, _ := cmd.Flags().GetString("payload")

		raw, err := hex.DecodeString(strings.TrimPrefix(payloadHex, "0x"))
		if err != nil {
			return fmt.Errorf("invalid payload hex: %w", err)
		}
		if len(raw) > cfg.WidthBytes {
			return fmt.Errorf("payload is %d bytes, width is %d", len(raw), cfg.WidthBytes)
		}

		text, err := cloak.Decode(new(uint256.Int).SetBytes(raw), cfg.WidthBytes)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the full send / fetch / decrypt flow locally",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := buildLogger(cfg)
		if err != nil {
			return err
		}
		text, _ := cmd.Flags().GetString("text")

		ctx := context.Background()

		alice, err := cloak.GenerateWallet()
		if err != nil {
			return err
		}
		bob, err := cloak.GenerateWallet()
		if err != nil {
			return err
		}

		gateway := fhe.NewGateway(logger)

		var led cloak.Ledger
		if cfg.RedisURI != "" {
			opt, err := redis.ParseURL(cfg.RedisURI)
			if err != nil {
				return fmt.Errorf("invalid redis URI: %w", err)
			}
			led = ledger.NewRedis(logger, redis.NewClient(opt))
		} else {
			mem := ledger.NewMemory(logger)
			mem.RegisterObserver(eventPrinter{})
			led = mem
		}

		contextID := demoContextID()
		sender, err := cloak.NewMessenger(logger, gateway, led, alice, contextID, cfg.WidthBytes, cfg.ValidityDays)
		if err != nil {
			return err
		}
		receiver, err := cloak.NewMessenger(logger, gateway, led, bob, contextID, cfg.WidthBytes, cfg.ValidityDays)
		if err != nil {
			return err
		}

		record, err := sender.Send(ctx, bob.Address(), text)
		if err != nil {
			return err
		}
		fmt.Printf("sent: %s -> %s handle=%s\n", record.Sender, record.Recipient, record.Handle)

		records, err := receiver.FetchInbox(ctx, bob.Address())
		if err != nil {
			return err
		}
		fmt.Printf("inbox: %d record(s), content still opaque\n", len(records))

		outcome, err := receiver.Decrypt(ctx, records)
		if err != nil {
			return err
		}
		for handle, plaintext := range outcome.Plaintexts {
			fmt.Printf("decrypted %s: %q\n", handle, plaintext)
		}
		for handle := range outcome.StillEncrypted {
			fmt.Printf("still encrypted: %s\n", handle)
		}
		return nil
	},
}

type eventPrinter struct{}

func (eventPrinter) MessageSent(ev cloak.MessageSentEvent) {
	fmt.Printf("event: MessageSent from=%s to=%s at=%d\n", ev.From, ev.To, ev.Timestamp)
}

func demoContextID() ids.ID {
	return ids.ID(sha256.Sum256([]byte("cloakcli/demo-context")))
}
