// Package config loads the two configuration files that sit outside the
// DoIP core: the ECU identity (YAML) consumed by this entity, and the
// tester endpoint (JSON) consumed by the external tester-side driver. Both
// are plain data; nothing here talks to the network.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/doipstack/doip-entity/pkg/entity"
)

// ECUIdentity mirrors the on-disk YAML shape described in spec.md §6:
// vin, logicalAddress (hex int), eid (6 bytes hex), gid (6 bytes hex).
type ECUIdentity struct {
	ECU struct {
		VIN            string `yaml:"vin"`
		LogicalAddress string `yaml:"logicalAddress"`
		EID            string `yaml:"eid"`
		GID            string `yaml:"gid"`
	} `yaml:"ECU"`
}

// LoadECUIdentityFromFile reads and validates the YAML ECU identity file,
// returning a ready-to-use entity.Identity.
func LoadECUIdentityFromFile(path string) (entity.Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return entity.Identity{}, fmt.Errorf("config: reading ECU identity file: %w", err)
	}
	return ParseECUIdentity(raw)
}

// ParseECUIdentity parses raw YAML bytes into an entity.Identity.
func ParseECUIdentity(raw []byte) (entity.Identity, error) {
	var doc ECUIdentity
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return entity.Identity{}, fmt.Errorf("config: parsing ECU identity yaml: %w", err)
	}

	var logicalAddress uint16
	if _, err := fmt.Sscanf(doc.ECU.LogicalAddress, "0x%x", &logicalAddress); err != nil {
		if _, err := fmt.Sscanf(doc.ECU.LogicalAddress, "%d", &logicalAddress); err != nil {
			return entity.Identity{}, fmt.Errorf("config: logicalAddress %q is neither hex nor decimal", doc.ECU.LogicalAddress)
		}
	}

	eid, err := hex.DecodeString(doc.ECU.EID)
	if err != nil {
		return entity.Identity{}, fmt.Errorf("config: decoding eid: %w", err)
	}
	gid, err := hex.DecodeString(doc.ECU.GID)
	if err != nil {
		return entity.Identity{}, fmt.Errorf("config: decoding gid: %w", err)
	}

	id, err := entity.New(doc.ECU.VIN, logicalAddress, eid, gid, 0x00)
	if err != nil {
		return entity.Identity{}, err
	}
	log.WithFields(log.Fields{
		"vin":            doc.ECU.VIN,
		"logicalAddress": logicalAddress,
	}).Info("[CONFIG] loaded ECU identity")
	return id, nil
}

// TesterEndpoint mirrors the JSON file an external tester-side driver uses
// to find this entity. Neither the core nor cmd/doipd reads it.
type TesterEndpoint struct {
	Server struct {
		IPAddress string `json:"ip_address"`
	} `json:"server"`
	BroadcastIP string `json:"broadcast_ip"`
}

// LoadTesterEndpointFromFile reads and parses the tester-side JSON config.
func LoadTesterEndpointFromFile(path string) (TesterEndpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return TesterEndpoint{}, fmt.Errorf("config: reading tester endpoint file: %w", err)
	}
	var doc TesterEndpoint
	if err := json.Unmarshal(raw, &doc); err != nil {
		return TesterEndpoint{}, fmt.Errorf("config: parsing tester endpoint json: %w", err)
	}
	return doc, nil
}
