// Package seed содержит каталог услуг и данные первого запуска.
package seed

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/barber-loyalty/internal/model"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Welcome задаёт шаблон приветственного уведомления.
type Welcome struct {
	Title   string `yaml:"title"`
	Message string `yaml:"message"`
}

// Announcement задаёт шаблон стартового объявления.
type Announcement struct {
	Title       string                 `yaml:"title"`
	Description string                 `yaml:"description"`
	Date        string                 `yaml:"date"`
	Type        model.AnnouncementType `yaml:"type"`
}

// Defaults содержит данные, которые устанавливаются при пустом хранилище.
type Defaults struct {
	Services     []model.Service `yaml:"services"`
	Welcome      Welcome         `yaml:"welcome"`
	Announcement Announcement    `yaml:"announcement"`
}

// Load разбирает встроенный файл defaults.yaml.
func Load() (*Defaults, error) {
	return Parse(defaultsYAML)
}

// Parse разбирает и проверяет описание данных первого запуска.
func Parse(data []byte) (*Defaults, error) {
	var d Defaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing defaults: %w", err)
	}

	if len(d.Services) == 0 {
		return nil, fmt.Errorf("defaults have no services defined")
	}

	seen := make(map[string]struct{}, len(d.Services))
	for _, s := range d.Services {
		if s.ID == "" || s.Name == "" {
			return nil, fmt.Errorf("service %q: id and name are required", s.ID)
		}
		if s.Price <= 0 {
			return nil, fmt.Errorf("service %q: price must be positive", s.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("service %q: duplicate id", s.ID)
		}
		seen[s.ID] = struct{}{}
	}

	switch d.Announcement.Type {
	case model.AnnouncementEvent, model.AnnouncementDeal, model.AnnouncementNews:
	default:
		return nil, fmt.Errorf("announcement type %q is unknown", d.Announcement.Type)
	}

	return &d, nil
}

// Service возвращает позицию каталога по идентификатору.
func (d *Defaults) Service(id string) (model.Service, bool) {
	for _, s := range d.Services {
		if s.ID == id {
			return s, true
		}
	}
	return model.Service{}, false
}
