package taxonomy

func describe(text string) *string {
	return &text
}

var canonicalCategories = []Category{
	{
		NameSQ:        "Legjenda Urbane",
		NameEN:        "Urban Legends",
		Slug:          "legjenda-urbane",
		DescriptionSQ: describe("Histori mistike nga rrugët e Shqipërisë dhe më gjerë"),
		DescriptionEN: describe("Mystical stories from Albanian streets and beyond"),
	},
	{
		NameSQ:        "Historitë Tuaja",
		NameEN:        "Your Stories",
		Slug:          "historite-tuaja",
		DescriptionSQ: describe("Përvojat e vërteta të lexuesve tanë"),
		DescriptionEN: describe("True experiences from our readers"),
	},
	{
		NameSQ:        "Kuriozitete Globale",
		NameEN:        "Global Curiosities",
		Slug:          "kuriozitete-globale",
		DescriptionSQ: describe("Mistere dhe ngjarje të pazgjidhura nga bota"),
		DescriptionEN: describe("Mysteries and unsolved events from around the world"),
	},
}
