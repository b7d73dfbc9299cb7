// Package manifest renders the fixed SDL-like deployment descriptor the
// marketplace consumes. Rendering is a pure function: the same five values
// in, the same document out. Built on typed structs marshaled through
// gopkg.in/yaml.v3, the same approach virtengine-virtengine's
// hpc_workload_library/manifest.go takes for its own workload manifests —
// scalar escaping is the library's job, not a hand-rolled one.
package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Params are the five values interpolated into the manifest.
type Params struct {
	ChannelToken   string
	InternalAPIKey string
	UpstreamAPIKey string
	ModelID        string
	PricingDenom   string
}

const containerImage = "ghcr.io/openclaw/bot-runtime:latest"
const serviceName = "openclaw"

type document struct {
	Version    string                       `yaml:"version"`
	Services   map[string]service           `yaml:"services"`
	Profiles   profiles                     `yaml:"profiles"`
	Deployment map[string]deploymentProfile `yaml:"deployment"`
}

type service struct {
	Image  string       `yaml:"image"`
	Env    []string     `yaml:"env"`
	Expose []expose     `yaml:"expose"`
	Params serviceParams `yaml:"params"`
}

type expose struct {
	Port int      `yaml:"port"`
	As   int      `yaml:"as"`
	To   []target `yaml:"to"`
}

type target struct {
	Global bool `yaml:"global"`
}

type serviceParams struct {
	Storage map[string]storageMount `yaml:"storage"`
}

type storageMount struct {
	Mount string `yaml:"mount"`
	Size  string `yaml:"size"`
}

type profiles struct {
	Compute   map[string]computeProfile `yaml:"compute"`
	Placement placement                `yaml:"placement"`
}

type computeProfile struct {
	Resources resources `yaml:"resources"`
}

type resources struct {
	CPU     cpuResource    `yaml:"cpu"`
	Memory  memoryResource `yaml:"memory"`
	Storage []storageEntry `yaml:"storage"`
}

type cpuResource struct {
	Units float64 `yaml:"units"`
}

type memoryResource struct {
	Size string `yaml:"size"`
}

type storageEntry struct {
	Size       string            `yaml:"size"`
	Name       string            `yaml:"name,omitempty"`
	Attributes *storageAttribute `yaml:"attributes,omitempty"`
}

type storageAttribute struct {
	Persistent bool `yaml:"persistent"`
}

type placement struct {
	Akash akashPlacement `yaml:"akash"`
}

type akashPlacement struct {
	Pricing map[string]pricing `yaml:"pricing"`
}

type pricing struct {
	Denom  string `yaml:"denom"`
	Amount int    `yaml:"amount"`
}

type deploymentProfile struct {
	Akash akashDeployment `yaml:"akash"`
}

type akashDeployment struct {
	Profile string `yaml:"profile"`
	Count   int    `yaml:"count"`
}

// Render produces the deployment descriptor. Every interpolated value is
// carried as a plain YAML string scalar, so yaml.Marshal's own escaping
// covers injection attempts (embedded quotes, newlines, NUL) without any
// manual sanitization step.
func Render(p Params) string {
	doc := document{
		Version: "2.0",
		Services: map[string]service{
			serviceName: {
				Image: containerImage,
				Env: []string{
					fmt.Sprintf("MODEL_ID=%s", p.ModelID),
					"BASE_URL=https://api.openai.com/v1",
					fmt.Sprintf("API_KEY=%s", p.UpstreamAPIKey),
					fmt.Sprintf("TELEGRAM_BOT_TOKEN=%s", p.ChannelToken),
					fmt.Sprintf("OPENCLAW_GATEWAY_TOKEN=%s", p.InternalAPIKey),
					"TELEGRAM_ENABLED=true",
				},
				Expose: []expose{
					{Port: 18789, As: 80, To: []target{{Global: true}}},
				},
				Params: serviceParams{
					Storage: map[string]storageMount{
						"data": {Mount: "/data", Size: "2Gi"},
					},
				},
			},
		},
		Profiles: profiles{
			Compute: map[string]computeProfile{
				serviceName: {
					Resources: resources{
						CPU:    cpuResource{Units: 1.5},
						Memory: memoryResource{Size: "3Gi"},
						Storage: []storageEntry{
							{Size: "2Gi"},
							{Size: "10Gi", Name: "data", Attributes: &storageAttribute{Persistent: true}},
						},
					},
				},
			},
			Placement: placement{
				Akash: akashPlacement{
					Pricing: map[string]pricing{
						serviceName: {Denom: p.PricingDenom, Amount: 1},
					},
				},
			},
		},
		Deployment: map[string]deploymentProfile{
			serviceName: {
				Akash: akashDeployment{Profile: serviceName, Count: 1},
			},
		},
	}

	// doc is a fixed shape of strings, ints, slices, and maps: yaml.Marshal
	// cannot fail on it.
	out, _ := yaml.Marshal(doc)
	return string(out)
}
