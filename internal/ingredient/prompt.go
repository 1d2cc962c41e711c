package ingredient

import "strings"

const (
	LanguageEnglish = "en"
	LanguagePolish  = "pl"
)

// SelectLanguage prefers the detected page language and falls back to the
// caller's default. Locale tags such as "pl-PL" or "en_GB" are matched by substring.
func SelectLanguage(item WorkItem) string {
	lang := strings.ToLower(item.DetectedLanguage)
	switch {
	case strings.Contains(lang, LanguagePolish):
		return LanguagePolish
	case strings.Contains(lang, LanguageEnglish):
		return LanguageEnglish
	}
	if item.FallbackLanguage == "" {
		return LanguageEnglish
	}
	return item.FallbackLanguage
}

func PromptFor(item WorkItem) Prompt {
	lang := SelectLanguage(item)
	tpl, ok := templates[lang]
	if !ok {
		tpl = templates[LanguageEnglish]
	}
	return Prompt{
		Language:     lang,
		Instructions: tpl.instructions,
		Examples:     tpl.examples,
		Input:        item.Content,
	}
}

type template struct {
	instructions string
	examples     []Example
}

var templates = map[string]template{
	LanguageEnglish: {
		instructions: `You are a recipe ingredient parser. You will be given one recipe ingredient line. Extract the ingredient name, unit, quantity and any preparation notes. Keep the name in its base form without changing its grammatical number, and do not translate it.
Reply using exactly this format:
Ingredient:
Unit:
Quantity:
Preparation notes:
When the line describes more than one ingredient, answer with lists:
Ingredient:
 - ingredient 1
 - ingredient 2
Unit:
 - unit 1
 - unit 2
Quantity:
 - quantity 1
 - quantity 2
Preparation notes:
 - note 1
 - note 2
When the line offers alternatives, answer with one block per alternative separated by a blank line.
Use the word None for anything that does not apply.`,
		examples: []Example{
			{"100 g cream cheese like Philadelphia or Almette", "Ingredient: cream cheese\nUnit: g\nQuantity: 100\nPreparation notes: like Philadelphia or Almette"},
			{"4 cloves of garlic, finely chopped", "Ingredient: cloves of garlic\nUnit: None\nQuantity: 4\nPreparation notes: finely chopped"},
			{"3 tbsp olive oil", "Ingredient: olive oil\nUnit: tbsp\nQuantity: 3\nPreparation notes: None"},
			{"1 can of chopped tomatoes + 2 tbsp tomato concentrate", "Ingredient:\n - chopped tomatoes\n - tomato concentrate\nUnit:\n - can\n - tbsp\nQuantity:\n - 1\n - 2\nPreparation notes:\n - None\n - None"},
			{"400 g dry white beans or 2 cans of beans", "Ingredient: white beans\nUnit: g\nQuantity: 400\nPreparation notes: dry\n\nIngredient: beans\nUnit: can\nQuantity: 2\nPreparation notes: None"},
			{"a pinch of salt", "Ingredient: salt\nUnit: pinch\nQuantity: 1\nPreparation notes: None"},
		},
	},
	LanguagePolish: {
		instructions: `Jesteś parserem składników przepisów. Otrzymasz jedną linię składnika. Wyodrębnij nazwę składnika, jednostkę, ilość oraz dodatkowe wskazówki przygotowania. Nazwa powinna być w mianowniku, a jej liczba gramatyczna pozostać niezmieniona.
Odpowiadaj dokładnie w tym formacie:
Ingredient:
Unit:
Quantity:
Preparation notes:
Jeżeli linia opisuje więcej niż jeden składnik, utwórz listy:
Ingredient:
 - składnik 1
 - składnik 2
Unit:
 - jednostka 1
 - jednostka 2
Quantity:
 - ilość 1
 - ilość 2
Preparation notes:
 - wskazówka 1
 - wskazówka 2
Jeżeli linia podaje alternatywy, odpowiedz osobnym blokiem dla każdej z nich, oddzielonym pustą linią.
Jeżeli któraś pozycja nie ma zastosowania, użyj słowa None.`,
		examples: []Example{
			{"100 g serka kremowego typu Philadelphia, Almette", "Ingredient: serek kremowy\nUnit: g\nQuantity: 100\nPreparation notes: typu Philadelphia, Almette"},
			{"4 ząbki czosnku, drobno posiekane", "Ingredient: ząbki czosnku\nUnit: None\nQuantity: 4\nPreparation notes: drobno posiekane"},
			{"listki z 2 gałązek natki pietruszki", "Ingredient: listki z natki pietruszki\nUnit: gałązki\nQuantity: 2\nPreparation notes: None"},
			{"1 puszka krojonych pomidorów + 2 łyżki koncentratu pomidorowego", "Ingredient:\n - pomidory krojone\n - koncentrat pomidorowy\nUnit:\n - puszka\n - łyżki\nQuantity:\n - 1\n - 2\nPreparation notes:\n - None\n - None"},
			{"400 g suchej fasolki lub 2 puszki fasolki", "Ingredient: fasolka\nUnit: g\nQuantity: 400\nPreparation notes: sucha\n\nIngredient: fasolka\nUnit: puszki\nQuantity: 2\nPreparation notes: None"},
			{"sól do smaku", "Ingredient: sól\nUnit: None\nQuantity: None\nPreparation notes: do smaku"},
		},
	},
}
