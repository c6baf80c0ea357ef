package intent

import (
	"log"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Opening is one entry of the closed opening catalogue: a slug, the
// detection phrases matched as substrings of the cleaned question, and the
// ECO range the opening occupies.
type Opening struct {
	Slug    string   `yaml:"slug"`
	Name    string   `yaml:"name"`
	Phrases []string `yaml:"phrases"`
	ECO     string   `yaml:"eco"`
}

type openingsFile struct {
	Openings []Opening `yaml:"openings"`
}

var (
	openingsOnce sync.Once
	openingsList []Opening
)

// Openings returns the active opening catalogue. An override file can be
// supplied via CHESSMATE_OPENINGS_CONFIG_PATH; otherwise the built-in
// catalogue is used.
func Openings() []Opening {
	openingsOnce.Do(func() {
		openingsList = builtInOpenings
		path := os.Getenv("CHESSMATE_OPENINGS_CONFIG_PATH")
		if path == "" {
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("WARNING: openings config %s unreadable, using built-in catalogue: %v", path, err)
			return
		}
		var f openingsFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			log.Printf("WARNING: openings config %s invalid, using built-in catalogue: %v", path, err)
			return
		}
		if len(f.Openings) > 0 {
			openingsList = f.Openings
			log.Printf("Loaded %d openings from %s", len(f.Openings), path)
		}
	})
	return openingsList
}

// Phrases are matched against normalized text, so they carry no
// punctuation or capitals ("kings indian", not "King's Indian").
var builtInOpenings = []Opening{
	{Slug: "kings_indian_defense", Name: "King's Indian Defense", Phrases: []string{"kings indian"}, ECO: "E60-E99"},
	{Slug: "french_defense", Name: "French Defense", Phrases: []string{"french defense", "french defence"}, ECO: "C00-C19"},
	{Slug: "sicilian_defense", Name: "Sicilian Defense", Phrases: []string{"sicilian"}, ECO: "B20-B99"},
	{Slug: "ruy_lopez", Name: "Ruy Lopez", Phrases: []string{"ruy lopez", "spanish opening", "spanish game"}, ECO: "C60-C99"},
	{Slug: "queens_gambit", Name: "Queen's Gambit", Phrases: []string{"queens gambit"}, ECO: "D06-D69"},
	{Slug: "caro_kann_defense", Name: "Caro-Kann Defense", Phrases: []string{"caro kann"}, ECO: "B10-B19"},
	{Slug: "italian_game", Name: "Italian Game", Phrases: []string{"italian game", "giuoco piano"}, ECO: "C50-C54"},
	{Slug: "english_opening", Name: "English Opening", Phrases: []string{"english opening"}, ECO: "A10-A39"},
	{Slug: "nimzo_indian_defense", Name: "Nimzo-Indian Defense", Phrases: []string{"nimzo indian"}, ECO: "E20-E59"},
	{Slug: "queens_indian_defense", Name: "Queen's Indian Defense", Phrases: []string{"queens indian"}, ECO: "E12-E19"},
	{Slug: "scandinavian_defense", Name: "Scandinavian Defense", Phrases: []string{"scandinavian"}, ECO: "B01-B01"},
	{Slug: "pirc_defense", Name: "Pirc Defense", Phrases: []string{"pirc"}, ECO: "B07-B09"},
	{Slug: "alekhine_defense", Name: "Alekhine's Defense", Phrases: []string{"alekhines defense", "alekhine defense", "alekhines defence"}, ECO: "B02-B05"},
	{Slug: "dutch_defense", Name: "Dutch Defense", Phrases: []string{"dutch defense", "dutch defence"}, ECO: "A80-A99"},
	{Slug: "grunfeld_defense", Name: "Grünfeld Defense", Phrases: []string{"grunfeld"}, ECO: "D70-D99"},
	{Slug: "slav_defense", Name: "Slav Defense", Phrases: []string{"slav defense", "slav defence"}, ECO: "D10-D19"},
	{Slug: "catalan_opening", Name: "Catalan Opening", Phrases: []string{"catalan"}, ECO: "E01-E09"},
	{Slug: "london_system", Name: "London System", Phrases: []string{"london system"}, ECO: "D02-D02"},
	{Slug: "scotch_game", Name: "Scotch Game", Phrases: []string{"scotch game", "scotch opening"}, ECO: "C44-C45"},
	{Slug: "vienna_game", Name: "Vienna Game", Phrases: []string{"vienna game"}, ECO: "C25-C29"},
	{Slug: "benoni_defense", Name: "Benoni Defense", Phrases: []string{"benoni"}, ECO: "A56-A79"},
	{Slug: "kings_gambit", Name: "King's Gambit", Phrases: []string{"kings gambit"}, ECO: "C30-C39"},
}
