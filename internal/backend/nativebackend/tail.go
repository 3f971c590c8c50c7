package nativebackend

import (
	"bufio"
	"fmt"
	"os"
)

// tailFile returns the last n lines of a file using a fixed-size ring,
// so large log files are not held in memory.
func tailFile(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring[count%n] = scanner.Text()
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if count < n {
		return ring[:count], nil
	}
	out := make([]string, 0, n)
	for i := count - n; i < count; i++ {
		out = append(out, ring[i%n])
	}
	return out, nil
}
