package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/thatsimonsguy/pai-supervisor/db"
	"github.com/thatsimonsguy/pai-supervisor/system/startup"
)

func main() {
	var dbPath, command, ssid, password string
	svc := startup.DefaultServiceOptions()

	flag.StringVar(&dbPath, "db", "data/pai.db", "Path to the SQLite preferences database")
	flag.StringVar(&command, "cmd", "", "Command to run: show-credentials, set-credentials, reset-credentials, install-service")
	flag.StringVar(&ssid, "ssid", "", "Network name for set-credentials")
	flag.StringVar(&password, "password", "", "Network password for set-credentials")
	flag.StringVar(&svc.UnitPath, "unit", svc.UnitPath, "systemd unit path for install-service")
	flag.StringVar(&svc.BinaryPath, "bin", svc.BinaryPath, "Supervisor binary path for install-service")
	flag.StringVar(&svc.ConfigPath, "config", svc.ConfigPath, "Supervisor config path for install-service")
	flag.StringVar(&svc.DBPath, "service-db", svc.DBPath, "Database path the installed service uses")
	flag.StringVar(&svc.User, "user", svc.User, "Service user for install-service")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of paictl:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	var err error
	switch command {
	case "show-credentials":
		var stored string
		stored, err = db.ShowCredentialsCLI(dbPath)
		if err == nil {
			if stored == "" {
				fmt.Println("No stored credentials, the supervisor will use its defaults")
			} else {
				fmt.Printf("Stored network: %s\n", stored)
			}
		}
	case "set-credentials":
		err = db.SetCredentialsCLI(dbPath, ssid, password)
	case "reset-credentials":
		err = db.ResetCredentialsCLI(dbPath)
	case "install-service":
		err = startup.InstallService(svc)
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
	fmt.Printf("Command %s completed successfully\n", command)
}
