package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"p2pchat/config"
	"p2pchat/discovery"
	"p2pchat/network"
	"p2pchat/registry"
	"p2pchat/session"
	"p2pchat/storage"
	"p2pchat/ui"
)

var displayName string

var rootCmd = &cobra.Command{
	Use:   "p2pchat",
	Short: "Decentralized broadcast-based LAN chat",
	Long: `p2pchat is a serverless chat tool for local networks. Peers announce
themselves over UDP broadcast, discover each other, and exchange
direct messages without any central server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var listenCmd = &cobra.Command{
	Use:   "listen [port]",
	Short: "Listen for peers and incoming messages",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := portArg(args, 0)
		if err != nil {
			return err
		}
		return runSession(port, "", "")
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect <username> <ip> [port]",
	Short: "Connect to a specific peer",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := portArg(args, 2)
		if err != nil {
			return err
		}
		return runSession(port, args[0], args[1])
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover [port]",
	Short: "Discover peers on the local network",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := portArg(args, 0)
		if err != nil {
			return err
		}
		return runDiscover(port)
	},
}

func init() {
	listenCmd.Flags().StringVar(&displayName, "name", "", "Display name (prompted when omitted)")
	connectCmd.Flags().StringVar(&displayName, "name", "", "Display name (prompted when omitted)")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(discoverCmd)
}

func portArg(args []string, index int) (int, error) {
	if len(args) <= index {
		return 0, nil
	}
	port, err := strconv.Atoi(args[index])
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", args[index])
	}
	return port, nil
}

// runSession drives listen and connect mode: the long-running endpoint
// plus the interactive chat loop. peerName/peerHost are empty in
// listen mode.
func runSession(port int, peerName, peerHost string) error {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port != 0 {
		cfg.Port = port
	}

	username := displayName
	if username == "" {
		username = promptDisplayName(cfg.Username)
	}

	console := ui.NewConsole(os.Stdout)
	peers := registry.New()

	var store *storage.Store
	if cfg.HistoryEnabled {
		dataDir := filepath.Dir(cfgPath)
		s, dbPath, err := storage.Open(dataDir)
		if err != nil {
			log.Printf("history disabled, database unavailable: %v", err)
		} else {
			store = s
			defer func() {
				if err := store.Close(); err != nil {
					log.Printf("database close error: %v", err)
				}
			}()
			console.Notice("History: " + dbPath)
		}
	}

	endpoint := network.New(network.Config{
		Port:             cfg.Port,
		Username:         username,
		Registry:         peers,
		AnnouncePresence: true,
	})

	chat := session.New(session.Options{
		Username:  username,
		Port:      cfg.Port,
		Transport: endpoint,
		Registry:  peers,
		Renderer:  console,
		Store:     store,
	})
	endpoint.SetHandlers(network.Handlers{
		OnChat:             chat.HandleChat,
		OnCommand:          chat.HandleRemoteCommand,
		OnTyping:           chat.HandleTyping,
		OnReadReceipt:      chat.HandleReadReceipt,
		OnFileOffer:        chat.HandleFileOffer,
		OnPeerDisconnected: chat.HandlePeerDisconnected,
	})

	if err := endpoint.Bind(); err != nil {
		return err
	}
	defer endpoint.Stop()

	if err := endpoint.Start(); err != nil {
		return err
	}

	console.Notice(fmt.Sprintf("[*] Listening on port %d", cfg.Port))
	console.Notice(fmt.Sprintf("[*] Your username: %s", username))
	console.Notice(fmt.Sprintf("[*] Your IP: %s", network.LocalIP()))

	if cfg.MDNSEnabled {
		announcer, err := discovery.Announce(discovery.Config{
			DeviceID: cfg.DeviceID,
			Username: username,
			Port:     cfg.Port,
		})
		if err != nil {
			log.Printf("mDNS announce failed: %v", err)
		} else {
			defer announcer.Stop()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if peerHost != "" {
		addr, err := network.ResolvePeerAddr(peerHost, cfg.Port)
		if err != nil {
			return err
		}
		chat.Connect(addr, peerName)
	}

	lines := ui.ReadLines(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			console.Notice("Shutting down...")
			chat.Quit()
			return nil
		case line, ok := <-lines:
			if !ok {
				chat.Quit()
				return nil
			}
			if !chat.HandleInput(line) {
				return nil
			}
		}
	}
}

// runDiscover drives the one-shot discovery probe.
func runDiscover(port int) error {
	cfg, _, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port != 0 {
		cfg.Port = port
	}

	console := ui.NewConsole(os.Stdout)
	peers := registry.New()

	endpoint := network.New(network.Config{
		Port:     cfg.Port,
		Username: cfg.Username,
		Registry: peers,
	})
	if err := endpoint.Bind(); err != nil {
		// A local listener already holds the shared port; an ephemeral
		// port still reaches peers and collects their replies.
		log.Printf("shared port unavailable, using ephemeral port: %v", err)
		if err := endpoint.BindAny(); err != nil {
			return err
		}
	}
	defer endpoint.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	console.Notice("Discovering peers on local network...")

	found, err := endpoint.Discover(ctx, network.DefaultDiscoveryWindow)
	if err != nil {
		return err
	}

	if cfg.MDNSEnabled {
		browsed, err := discovery.Browse(ctx, discovery.Config{
			DeviceID: cfg.DeviceID,
			Username: cfg.Username,
		})
		if err != nil {
			log.Printf("mDNS browse failed: %v", err)
		} else {
			discovery.MergeInto(peers, browsed, time.Now())
			found = peers.Snapshot()
		}
	}

	console.PeerList(found, time.Now())
	return nil
}

func promptDisplayName(fallback string) string {
	fmt.Printf("Enter display name [%s]: ", fallback)

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fallback
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return fallback
	}
	return line
}
