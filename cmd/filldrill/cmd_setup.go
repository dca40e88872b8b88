package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/filldrill/internal/config"
	"github.com/felixgeelhaar/filldrill/internal/remote"
)

// cmdInit initializes fill-drill for first-time use
func cmdInit() error {
	fmt.Println("Fill-drill - First-Time Setup")
	fmt.Println("=============================")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Creating config directory... ")
	dir, err := config.EnsureDir()
	if err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	fmt.Printf("✓ %s\n", dir)

	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Print("Creating default configuration... ")
		if err := config.Save(dir, config.DefaultLocalConfig()); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println("✓")
	} else {
		fmt.Println("Configuration already exists ✓")
	}

	fmt.Println()
	fmt.Println("LLM Provider Setup")
	fmt.Println("------------------")
	fmt.Println("Fill-drill supports Claude (Anthropic) and Ollama (local).")
	fmt.Println()

	cfg, _ := config.Load()
	if cfg != nil && cfg.LLM.Providers["claude"] != nil && cfg.LLM.Providers["claude"].APIKey != "" {
		fmt.Println("Claude API key: already configured ✓")
	} else {
		fmt.Print("Enter Claude API key (or press Enter to skip): ")
		key, _ := reader.ReadString('\n')
		key = strings.TrimSpace(key)
		if key != "" {
			if err := config.SaveSecrets(dir, map[string]string{"claude": key}); err != nil {
				fmt.Printf("  ⚠ Failed to save: %v\n", err)
			} else {
				fmt.Println("  ✓ Saved")
			}
		}
	}

	fmt.Println()
	fmt.Println("Setup Complete!")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Put collection files (<id>.yaml) in %s\n", filepath.Join(dir, "collections"))
	fmt.Println("  2. filldrill start     # Start the daemon")
	fmt.Println("  3. filldrill doctor    # Verify configuration")
	fmt.Println()
	fmt.Println("For editor integration, configure MCP with 'filldrill mcp'.")
	return nil
}

// cmdDoctor checks the configuration and every configured backend.
func cmdDoctor() error {
	fmt.Println("Checking configuration...")
	allGood := true

	fmt.Print("Directory: ")
	dir, err := config.Dir()
	switch {
	case err != nil:
		fmt.Printf("✗ %v\n", err)
		allGood = false
	default:
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			fmt.Println("✗ not created (run 'filldrill init')")
			allGood = false
		} else {
			fmt.Printf("✓ %s\n", dir)
		}
	}

	fmt.Print("Config:    ")
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		return fmt.Errorf("configuration invalid")
	}
	fmt.Println("✓ loaded")

	fmt.Println("\nLLM Providers:")
	for name, provider := range cfg.LLM.Providers {
		if provider == nil || !provider.Enabled {
			continue
		}
		fmt.Printf("  %s: ", name)
		switch name {
		case "ollama":
			if err := checkOllama(provider.URL); err != nil {
				fmt.Printf("✗ %v\n", err)
				allGood = false
			} else {
				fmt.Println("✓ reachable")
			}
		default:
			if provider.APIKey == "" {
				fmt.Println("✗ no API key")
				allGood = false
			} else {
				fmt.Println("✓ API key configured")
			}
		}
	}

	fmt.Print("\nRemote:    ")
	if err := checkRemote(cfg.Remote); err != nil {
		fmt.Printf("✗ %v\n", err)
		allGood = false
	} else {
		fmt.Printf("✓ %s\n", cfg.Remote.Backend)
	}

	fmt.Println()
	if !allGood {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("All checks passed ✓")
	return nil
}

func checkRemote(cfg config.RemoteConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout())
	defer cancel()

	store, err := remote.Open(ctx, remote.Config{
		Backend:     cfg.Backend,
		DatabaseURL: cfg.DatabaseURL,
		RedisAddr:   cfg.RedisAddr,
		RedisDB:     cfg.RedisDB,
		Password:    cfg.Password,
		BaseURL:     cfg.BaseURL,
		Timeout:     cfg.Timeout(),
	})
	if err != nil {
		return err
	}
	if store != nil {
		return store.Close()
	}
	return nil
}

func checkOllama(url string) error {
	if url == "" {
		url = "http://localhost:11434"
	}

	client := http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url + "/api/tags")
	if err != nil {
		return fmt.Errorf("not reachable at %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}
