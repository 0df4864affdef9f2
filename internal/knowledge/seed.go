package knowledge

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Entries []Entry `yaml:"entries"`
}

// Seed populates an empty store. When seedPath is set the YAML file is
// loaded; otherwise the built-in default set is used. A non-empty store is
// left untouched so operator edits survive restarts.
func Seed(ctx context.Context, store *SQLiteStore, seedPath string) error {
	n, err := store.Count(ctx)
	if err != nil {
		return fmt.Errorf("cannot count faq entries: %w", err)
	}
	if n > 0 {
		return nil
	}

	entries := defaultEntries()
	if seedPath != "" {
		data, err := os.ReadFile(seedPath)
		if err != nil {
			return fmt.Errorf("cannot read faq seed %s: %w", seedPath, err)
		}
		var sf seedFile
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return fmt.Errorf("cannot parse faq seed %s: %w", seedPath, err)
		}
		if len(sf.Entries) > 0 {
			entries = sf.Entries
		}
	}

	for _, e := range entries {
		if err := store.Upsert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func defaultEntries() []Entry {
	return []Entry{
		{
			Question: "What products do you offer?",
			Keywords: []string{"products", "catalog", "assortment", "offer", "sell", "goods", "items"},
			Answer: "We offer a wide range of products for your business: industrial equipment, " +
				"electronic components, tools and materials, and specialized solutions. " +
				"Describe what you are looking for and I will point you at the right category.",
		},
		{
			Question: "How can I contact you?",
			Keywords: []string{"contact", "phone", "email", "address", "reach", "located", "office"},
			Answer: "You can reach us by phone, email, or through this chat. " +
				"Office hours are Mon-Fri 9:00-18:00. For urgent matters leave a request " +
				"and a manager will get back to you shortly.",
		},
		{
			Question: "What are your prices?",
			Keywords: []string{"price", "prices", "cost", "pricing", "much", "quote"},
			Answer: "Prices depend on order volume and specification. Tell me the product or " +
				"category, the quantity you need, and your delivery timeline, and I will " +
				"pass the request on for a quote.",
		},
		{
			Question: "Do you deliver?",
			Keywords: []string{"delivery", "deliver", "shipping", "ship", "courier", "pickup"},
			Answer: "Yes. We deliver within the city, ship to other regions, and offer warehouse " +
				"pickup. Cost and timing depend on destination, weight, and urgency.",
		},
		{
			Question: "What warranty do you provide?",
			Keywords: []string{"warranty", "guarantee", "return", "exchange", "quality", "service"},
			Answer: "All products carry a full warranty per their technical specifications, " +
				"with returns accepted within 14 days and ongoing technical support.",
		},
		{
			Question: "Do you work with companies?",
			Keywords: []string{"company", "companies", "business", "wholesale", "invoice", "organization"},
			Answer: "Yes, we work with both individuals and companies. Organizations get " +
				"invoice payment, contract terms, and special conditions for regular customers.",
		},
	}
}
