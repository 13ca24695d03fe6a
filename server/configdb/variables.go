package configdb

import (
	"errors"
	"fmt"
	"strconv"
)

// VariableKey is global configuration variables that can be set on the system
type VariableKey string

const (
	VarTopK          VariableKey = "TopK"          // Maximum number of predictions per frame
	VarMinConfidence VariableKey = "MinConfidence" // Predictions below this confidence (0..1) are dropped
	VarTickRate      VariableKey = "TickRate"      // Maximum classifications per second
)

var AllVariables = []VariableKey{VarTopK, VarMinConfidence, VarTickRate}

// Settings control the classification loop, and can be changed while it runs.
// SYNC-SETTINGS
type Settings struct {
	TopK          int     `json:"topK"`
	MinConfidence float32 `json:"minConfidence"`
	TickRate      float64 `json:"tickRate"` // Hz. Zero means one tick per display refresh (60 Hz).
}

func DefaultSettings() Settings {
	return Settings{
		TopK:          3,
		MinConfidence: 0,
		TickRate:      0,
	}
}

func (s *Settings) Validate() error {
	if s.TopK < 1 || s.TopK > 1000 {
		return fmt.Errorf("topK must be between 1 and 1000")
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return fmt.Errorf("minConfidence must be between 0 and 1")
	}
	if s.TickRate < 0 || s.TickRate > 1000 {
		return fmt.Errorf("tickRate must be between 0 and 1000")
	}
	return nil
}

// Returns nil if the value is acceptable for the variable
func ValidateVariable(key VariableKey, value string) error {
	switch key {
	case VarTopK:
		_, err := strconv.Atoi(value)
		return err
	case VarMinConfidence, VarTickRate:
		_, err := strconv.ParseFloat(value, 64)
		return err
	}
	return fmt.Errorf("Unknown variable '%v'", key)
}

func (c *ConfigDB) GetVariable(key VariableKey) (string, bool, error) {
	values := []Variable{}
	if err := c.DB.Where("key = ?", string(key)).Find(&values).Error; err != nil {
		return "", false, err
	}
	if len(values) == 0 {
		return "", false, nil
	}
	return values[0].Value, true, nil
}

func (c *ConfigDB) SetVariable(key VariableKey, value string) error {
	if err := ValidateVariable(key, value); err != nil {
		return err
	}
	db, err := c.DB.DB()
	if err != nil {
		return err
	}
	_, err = db.Exec("INSERT INTO variable (key, value) VALUES ($1, $2) ON CONFLICT(key) DO UPDATE SET value = EXCLUDED.value", string(key), value)
	return err
}

// GetSettings reads the settings from the variable table.
// Missing (or unparseable) variables take their default value.
func (c *ConfigDB) GetSettings() (Settings, error) {
	s := DefaultSettings()
	values := []Variable{}
	if err := c.DB.Find(&values).Error; err != nil {
		return s, err
	}
	var errs []error
	for _, v := range values {
		var err error
		switch VariableKey(v.Key) {
		case VarTopK:
			s.TopK, err = strconv.Atoi(v.Value)
		case VarMinConfidence:
			var f float64
			f, err = strconv.ParseFloat(v.Value, 32)
			s.MinConfidence = float32(f)
		case VarTickRate:
			s.TickRate, err = strconv.ParseFloat(v.Value, 64)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("Variable %v: %w", v.Key, err))
		}
	}
	if len(errs) != 0 {
		c.Log.Warnf("Invalid settings in database: %v", errors.Join(errs...))
	}
	if err := s.Validate(); err != nil {
		c.Log.Warnf("Invalid settings in database (%v). Using defaults", err)
		s = DefaultSettings()
	}
	return s, nil
}

func (c *ConfigDB) SetSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	values := map[VariableKey]string{
		VarTopK:          strconv.Itoa(s.TopK),
		VarMinConfidence: strconv.FormatFloat(float64(s.MinConfidence), 'g', -1, 32),
		VarTickRate:      strconv.FormatFloat(s.TickRate, 'g', -1, 64),
	}
	for _, key := range AllVariables {
		if err := c.SetVariable(key, values[key]); err != nil {
			return err
		}
	}
	return nil
}
