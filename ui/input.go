package ui

import (
	"bufio"
	"io"
)

// ReadLines pumps input lines into a channel from a background
// goroutine, letting the session loop select over input, protocol
// events, and shutdown instead of blocking on a read. The channel is
// closed on EOF or read error.
func ReadLines(r io.Reader) <-chan string {
	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	return lines
}
