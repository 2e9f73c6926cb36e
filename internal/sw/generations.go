package sw

// Generations holds the current cache names, one per purpose.
type Generations struct {
	Static  string
	Video   string
	Default string
}

// GenerationNames derives the three current generation names for version.
func GenerationNames(version string) Generations {
	if version == "" {
		version = "v1"
	}
	return Generations{
		Static:  "static-" + version,
		Video:   "videos-" + version,
		Default: "offline-video-" + version,
	}
}

func (g Generations) All() []string {
	return []string{g.Static, g.Video, g.Default}
}

func (g Generations) Has(name string) bool {
	return name == g.Static || name == g.Video || name == g.Default
}
