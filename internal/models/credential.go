package models

import "time"

type Credential struct {
	ID          string     `gorm:"primaryKey" json:"id"`
	Name        string     `gorm:"not null" json:"name"`
	Host        string     `gorm:"not null" json:"host"`
	Username    string     `gorm:"not null" json:"username"`
	Password    string     `gorm:"not null" json:"password"`
	Port        int        `json:"port"`
	ValidatedAt time.Time  `json:"validatedAt"`
	LastUsed    *time.Time `json:"lastUsed,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type CredentialSummary struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Host        string     `json:"host"`
	Username    string     `json:"username"`
	Port        int        `json:"port"`
	ValidatedAt time.Time  `json:"validatedAt"`
	LastUsed    *time.Time `json:"lastUsed,omitempty"`
}

func (c *Credential) Summary() CredentialSummary {
	return CredentialSummary{
		ID:          c.ID,
		Name:        c.Name,
		Host:        c.Host,
		Username:    c.Username,
		Port:        c.Port,
		ValidatedAt: c.ValidatedAt,
		LastUsed:    c.LastUsed,
	}
}
