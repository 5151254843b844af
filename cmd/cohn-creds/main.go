// Command cohn-creds inspects and prunes the stored COHN credentials.
// Credentials go stale when a camera is factory reset or moved to a new
// network; deleting the record forces a fresh provisioning on next use.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/goprolink/goprolink/internal/cohn"
	"github.com/goprolink/goprolink/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/goprolink/config.yaml)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := cohn.OpenSQLiteStore(cfg.CredentialsPath)
	if err != nil {
		log.Fatalf("Failed to open credential store at %s: %v", cfg.CredentialsPath, err)
	}
	defer store.Close()

	switch cmd := flag.Arg(0); cmd {
	case "list":
		err = list(store)
	case "show":
		err = show(store, flag.Arg(1))
	case "delete":
		err = remove(store, flag.Arg(1))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func list(store *cohn.SQLiteStore) error {
	records, err := store.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No stored credentials.")
		return nil
	}
	for _, r := range records {
		fmt.Printf("%-12s %-15s updated %s\n", r.CameraID, r.Creds.IP, r.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func show(store *cohn.SQLiteStore, cameraID string) error {
	if cameraID == "" {
		return fmt.Errorf("usage: cohn-creds show <camera-id>")
	}
	creds, found, err := store.Load(cameraID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no credentials stored for %q", cameraID)
	}
	fmt.Printf("Camera:   %s\n", cameraID)
	fmt.Printf("IP:       %s\n", creds.IP)
	fmt.Printf("Username: %s\n", creds.Username)
	fmt.Printf("Password: %s\n", creds.Password)
	fmt.Printf("Certificate:\n%s\n", creds.Certificate)
	return nil
}

func remove(store *cohn.SQLiteStore, cameraID string) error {
	if cameraID == "" {
		return fmt.Errorf("usage: cohn-creds delete <camera-id>")
	}
	if err := store.Delete(cameraID); err != nil {
		return err
	}
	fmt.Printf("Deleted credentials for %q.\n", cameraID)
	return nil
}

// loadConfig mirrors the main binary: explicit path, then the default
// path, then built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		return config.Load(defaultPath)
	}
	return config.Default(), nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: cohn-creds [-config path] <command>

Commands:
  list                 list stored camera credentials
  show <camera-id>     print one camera's full credentials
  delete <camera-id>   remove one camera's credentials
`)
}
