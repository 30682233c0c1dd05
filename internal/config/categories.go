package config

import "slices"

// Category pairs a category name with a short descriptor. The descriptor is
// what the classifier embeds and compares creator representations against.
type Category struct {
	Name       string
	Descriptor string
}

// Categories is the closed category set. The order is fixed: classifier
// score vectors index into this table, so entries must never be reordered
// or removed, only appended with care.
var Categories = []Category{
	{"fitness", "workouts, exercise routines, gym training, strength and conditioning"},
	{"food", "cooking, recipes, restaurants, baking, food reviews and eating"},
	{"beauty", "makeup, skincare, cosmetics, hair styling and beauty routines"},
	{"fashion", "clothing, outfits, style advice, accessories and fashion trends"},
	{"comedy", "jokes, sketches, pranks, funny moments and humorous commentary"},
	{"education", "teaching, tutorials, explanations, study tips and learning"},
	{"technology", "gadgets, software, coding, reviews of devices and tech news"},
	{"gaming", "video games, gameplay, esports, game reviews and streaming"},
	{"music", "songs, instruments, singing, music production and performances"},
	{"travel", "destinations, trips, sightseeing, travel tips and adventures"},
	{"wellness", "mental health, meditation, mindfulness, self care and healthy living"},
	{"finance", "money, investing, budgeting, saving and personal finance advice"},
	{"family", "parenting, kids, family life, relationships and household moments"},
	{"diy", "crafts, home improvement, building projects and handmade creations"},
	{"pets", "dogs, cats, animal care, pet training and cute animal moments"},
}

// CategoryNames returns the category names in table order.
func CategoryNames() []string {
	names := make([]string, len(Categories))
	for i, c := range Categories {
		names[i] = c.Name
	}
	return names
}

// IsCategory reports whether name is a member of the closed category set.
func IsCategory(name string) bool {
	return slices.ContainsFunc(Categories, func(c Category) bool { return c.Name == name })
}
