package kvbroker

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// LoadServerList reads the server list file (spec.md 6): one "HOST PORT"
// per line, blank lines ignored, any malformed line fatal. Ported from
// kvBroker.py's load_server_file.
func LoadServerList(fs afero.Fs, path string) ([]Address, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("server file not found: %s", path)
	}
	defer f.Close()

	var servers []Address
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid server file format. Expected 'IP PORT', got: %s", line)
		}
		port, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("invalid server file format. Expected 'IP PORT', got: %s", line)
		}
		servers = append(servers, Address{Host: fields[0], Port: port})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(servers) == 0 {
		return nil, fmt.Errorf("no servers specified in server file")
	}
	return servers, nil
}

// LoadBulkData reads the bulk data file (spec.md 6) and PUTs each
// non-blank line through the broker's normal replicated-PUT path,
// matching kvBroker.py main()'s index-loading loop (SPEC_FULL.md 4.4).
func (b *Broker) LoadBulkData(fs afero.Fs, path string) (lines, totalSuccesses int, err error) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("data file not found: %s", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		successes, _, putErr := b.Put(line)
		if putErr != nil {
			return lines, totalSuccesses, putErr
		}
		lines++
		totalSuccesses += successes
	}
	if err := scanner.Err(); err != nil {
		return lines, totalSuccesses, err
	}
	return lines, totalSuccesses, nil
}
