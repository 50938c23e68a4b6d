package main

import (
	"bufio"
	"os"
	"strings"
)

// loadDotEnv reads a .env file in the working directory, if present,
// and sets any variable it defines that is not already present in the
// environment. No dotenv parser exists anywhere in the reference
// pack this worker was built against, so this is a small hand-rolled
// KEY=VALUE reader rather than a pulled-in dependency.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if _, present := os.LookupEnv(key); present {
			continue
		}
		os.Setenv(key, value)
	}
}
