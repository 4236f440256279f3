package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"parbridge/host/mcu"
)

var (
	device = flag.String("device", "/dev/ttyACM0", "Serial device path")
)

var modeNames = [...]string{"host-bridge", "network-service"}

func modeName(m uint32) string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("unknown(%d)", m)
}

func main() {
	flag.Parse()

	conn := mcu.NewMCU()

	fmt.Printf("Connecting to bridge on %s...\n", *device)
	if err := conn.Connect(*device); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := conn.RetrieveDictionary(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to retrieve dictionary: %v\n", err)
		os.Exit(1)
	}

	dict := conn.GetDictionary()
	fmt.Printf("Connected: %s (%s)\n", dict.Version, dict.BuildVersions)

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]

		var err error
		switch cmd {
		case "quit", "exit", "q":
			return

		case "help", "?":
			printHelp()

		case "dict":
			conn.PrintDictionary()

		case "raw":
			raw := conn.GetDictionaryRaw()
			fmt.Printf("Raw dictionary (%d bytes):\n%s\n", len(raw), string(raw))

		case "status":
			err = showStatus(conn)

		case "stats":
			err = showStats(conn)

		case "uptime":
			err = showUptime(conn)

		case "clock":
			err = showClock(conn)

		case "trace":
			err = showTrace(conn)

		case "debug":
			if len(parts) < 2 || (parts[1] != "on" && parts[1] != "off") {
				fmt.Println("usage: debug on|off")
				continue
			}
			err = conn.SetDebug(parts[1] == "on")

		case "mode":
			err = switchMode(conn)

		case "reset":
			err = conn.Reset()
			if err == nil {
				fmt.Println("Reset requested; the device will re-enumerate.")
				return
			}

		default:
			fmt.Printf("Unknown command: %s (type 'help' for available commands)\n", cmd)
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  status         - Mode, card presence, suppression, pending switch")
	fmt.Println("  stats          - Bridge transfer counters")
	fmt.Println("  uptime         - Firmware uptime")
	fmt.Println("  clock          - Firmware tick clock")
	fmt.Println("  trace          - Dump the firmware trace ring")
	fmt.Println("  debug on|off   - Toggle firmware debug output")
	fmt.Println("  mode           - Switch to the other mode (device resets)")
	fmt.Println("  reset          - Reset the device")
	fmt.Println("  dict           - Print dictionary summary")
	fmt.Println("  raw            - Print raw dictionary JSON")
	fmt.Println("  quit/exit/q    - Exit")
	fmt.Println()
}

func showStatus(conn *mcu.MCU) error {
	st, err := conn.QueryStatus()
	if err != nil {
		return err
	}

	fmt.Printf("Mode:           %s\n", modeName(st.Mode))
	fmt.Printf("Card present:   %v\n", st.CardPresent)
	fmt.Printf("Suppressed:     %v\n", st.Suppressed)
	fmt.Printf("Pending switch: %v\n", st.PendingSwitch)
	return nil
}

func showStats(conn *mcu.MCU) error {
	s, err := conn.QueryStats()
	if err != nil {
		return err
	}

	fmt.Printf("Requests:         %d\n", s.Requests)
	fmt.Printf("Bytes to host:    %d\n", s.BytesToHost)
	fmt.Printf("Bytes from host:  %d\n", s.BytesFromHost)
	fmt.Printf("Aborts:           %d\n", s.Aborts)
	fmt.Printf("Extended headers: %d\n", s.ExtendedHeaders)
	fmt.Printf("Control commands: %d\n", s.ControlCommands)
	fmt.Printf("SPI errors:       %d\n", s.SPIErrors)
	fmt.Printf("Card events:      %d\n", s.CardEvents)
	return nil
}

func showUptime(conn *mcu.MCU) error {
	us, err := conn.QueryUptime()
	if err != nil {
		return err
	}

	secs := us / 1_000_000
	fmt.Printf("Uptime: %d us (%dh%dm%ds)\n", us,
		secs/3600, (secs/60)%60, secs%60)
	return nil
}

func showClock(conn *mcu.MCU) error {
	clock, err := conn.QueryClock()
	if err != nil {
		return err
	}

	fmt.Printf("Clock: %d\n", clock)
	return nil
}

var traceEventNames = map[uint32]string{
	1: "request",
	2: "decode",
	3: "abort",
	4: "card-change",
	5: "mode-switch",
	6: "spi-speed",
}

func showTrace(conn *mcu.MCU) error {
	entries, err := conn.DumpTrace()
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("Trace ring is empty.")
		return nil
	}

	for _, e := range entries {
		name, ok := traceEventNames[e.EventType]
		if !ok {
			name = fmt.Sprintf("event-%d", e.EventType)
		}
		fmt.Printf("  %10d  %-12s value=%d arg=%d\n", e.Clock, name, e.Value, e.Arg)
	}
	return nil
}

func switchMode(conn *mcu.MCU) error {
	st, err := conn.QueryStatus()
	if err != nil {
		return err
	}

	next := uint32(1) - st.Mode%2
	fmt.Printf("Switching %s -> %s (device will reset)...\n",
		modeName(st.Mode), modeName(next))

	if err := conn.RequestMode(next); err != nil {
		return err
	}

	fmt.Println("Switch latched; reconnect after the device re-enumerates.")
	return nil
}
