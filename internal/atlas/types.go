package atlas

import (
	"errors"
	"fmt"
)

// Config holds Atlas Admin API client settings.
type Config struct {
	PublicKey   string
	PrivateKey  string
	BaseURL     string
	RateLimitMS int
}

// Cluster captures the Atlas cluster metadata checked before retargeting.
type Cluster struct {
	ID             string
	Name           string
	MongoDBVersion string
	StateName      string
}

// FederatedInstance is a Data Federation instance as returned by the Admin
// API. Fields the client does not interpret are kept verbatim.
type FederatedInstance map[string]any

// Name returns the instance name.
func (f FederatedInstance) Name() string {
	return firstString(f, "name")
}

// Storage is the storage configuration of a federated instance.
type Storage struct {
	Databases []StorageDatabase `json:"databases"`
	Stores    []Store           `json:"stores"`
}

// StorageDatabase maps a virtual database onto data sources.
type StorageDatabase struct {
	Name        string              `json:"name"`
	Collections []StorageCollection `json:"collections"`
	Views       []any               `json:"views"`
}

// StorageCollection maps a virtual collection onto stores.
type StorageCollection struct {
	Name        string       `json:"name"`
	DataSources []DataSource `json:"dataSources"`
}

// DataSource references a store by name.
type DataSource struct {
	StoreName string `json:"storeName"`
}

// Store is an Atlas cluster store.
type Store struct {
	Provider       string         `json:"provider"`
	ClusterName    string         `json:"clusterName"`
	Name           string         `json:"name"`
	ProjectID      string         `json:"projectId"`
	ReadPreference ReadPreference `json:"readPreference"`
}

// ReadPreference of a store.
type ReadPreference struct {
	Mode    string `json:"mode"`
	TagSets []any  `json:"tagSets"`
}

// APIError is a structured non-2xx Atlas API response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return "atlas api error"
	}
	if e.Code != "" {
		return fmt.Sprintf("atlas api %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("atlas api %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err wraps an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
