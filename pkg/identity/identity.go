package identity

import (
	"encoding/json"
	"os"

	"github.com/roadhelp/dispatch-core/pkg/file"
)

// Identity holds the provider account's unique identifier and metadata.
type Identity struct {
	ID       string          `json:"provider_id,omitempty"`
	Name     string          `json:"provider_name,omitempty"`
	OrgID    string          `json:"org_id,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ProviderInfoInterface defines methods for managing the provider identity.
type ProviderInfoInterface interface {
	LoadProviderInfo() error
	SaveProviderID(providerID string) error
	GetProviderID() string
	GetProviderIdentity() *Identity
}

// ProviderInfo manages the provider identity and its associated file operations.
type ProviderInfo struct {
	ProviderInfoFile string
	Identity         Identity
	fileOps          file.FileOperations
}

// NewProviderInfo initializes a new ProviderInfo instance.
func NewProviderInfo(filePath string, fileOps file.FileOperations) ProviderInfoInterface {
	return &ProviderInfo{
		ProviderInfoFile: filePath,
		fileOps:          fileOps,
		Identity:         Identity{},
	}
}

// LoadProviderInfo reads the provider information from the file and populates the Identity field.
func (p *ProviderInfo) LoadProviderInfo() error {
	err := p.fileOps.ReadJsonFile(p.ProviderInfoFile, &p.Identity)
	if err != nil {
		if os.IsNotExist(err) {
			// File does not exist, initialize with default empty values
			p.Identity = Identity{}
			return nil
		}
		return err
	}

	return nil
}

// GetProviderIdentity returns the current provider Identity.
func (p *ProviderInfo) GetProviderIdentity() *Identity {
	return &p.Identity
}

// GetProviderID returns the current provider ID.
func (p *ProviderInfo) GetProviderID() string {
	return p.Identity.ID
}

// SaveProviderID updates the provider ID in the Identity field and writes it back to the file.
func (p *ProviderInfo) SaveProviderID(providerID string) error {
	p.Identity.ID = providerID
	return p.fileOps.WriteJsonFile(p.ProviderInfoFile, p.Identity)
}
