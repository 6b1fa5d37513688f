// Command pcmlink runs a pcmlink server or probes one.
//
//	pcmlink serve --record take.wav
//	pcmlink probe 192.168.1.20:6910 --duration 5s
//	pcmlink probe --discover
package main

func main() {
	Execute()
}
