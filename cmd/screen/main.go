// Command screen is a minimal serial console for watching a target boot
// after its environment was seeded.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"go.bug.st/serial"
)

func main() {
	var (
		path string
		baud int
		list bool
	)
	flag.StringVar(&path, "port", "", "serial port (default: the only one present)")
	flag.IntVar(&baud, "baud", 115200, "baud rate")
	flag.BoolVar(&list, "l", false, "list serial ports")
	flag.Parse()

	ports, err := serial.GetPortsList()
	if err != nil {
		log.Fatal(err)
	}
	if list {
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}
	if path == "" {
		if len(ports) != 1 {
			log.Fatalf("%d serial ports found, pick one with -port", len(ports))
		}
		path = ports[0]
	}

	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		log.Fatal(err)
	}
	defer port.Close()

	go func() {
		if _, err := io.Copy(port, os.Stdin); err != nil {
			log.Println("Error reading from stdin:", err)
		}
	}()

	buf := make([]byte, 64)
	for {
		n, err := port.Read(buf)
		if err != nil {
			log.Println("Error reading from port:", err)
			break
		}
		os.Stdout.Write(buf[:n])
	}
}
