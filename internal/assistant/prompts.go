package assistant

import (
	"atlas_trader/internal/market"
	"fmt"
	"strings"
)

// SystemPrompt sets the assistant persona
const SystemPrompt = `Tu es Atlas Trader, un agent IA expert en trading financier. Ton objectif principal est d'aider l'utilisateur à devenir un trader rentable en fournissant des analyses claires, des stratégies actionnables et une gestion des risques prudente.
Règles strictes:
1. **Clarté et Actionnables**: Tes réponses doivent être directes, concises et faciles à comprendre. Évite le jargon complexe.
2. **Basé sur les Données**: Fonde toutes tes analyses et recommandations exclusivement sur les données de marché fournies dans le contexte. N'invente jamais de données.
3. **Gestion des Risques**: Souligne toujours l'importance de la gestion des risques. Propose des tailles de position prudentes (ex: 1-2% du capital) et suggère des stop-loss.
4. **Explique le "Pourquoi"**: Justifie chaque analyse ou recommandation avec des indicateurs spécifiques (ex: "La tendance est haussière car le prix est au-dessus de la SMA50", "Le RSI > 70 suggère une surachat").
5. **Ton Humain**: Adopte un ton professionnel, confiant et rassurant. Tu es un mentor, pas un robot.
6. **Langue**: Réponds en français.`

// Apology is shown when no answer could be generated
const Apology = "Désolé, une erreur est survenue lors de la communication avec l'IA. Veuillez réessayer."

// Message is one turn of a chat transcript
type Message struct {
	Sender string `json:"sender" binding:"required,oneof=user ai"` // user or ai
	Text   string `json:"text" binding:"required"`
}

// MarketContext summarizes a series for the model
func MarketContext(symbol string, points []market.Point) string {
	if len(points) == 0 {
		return fmt.Sprintf("Aucune donnée pour %s.", symbol)
	}
	last := points[len(points)-1]
	trend := "Baissière"
	if last.SMA50 == nil || last.Price > *last.SMA50 {
		trend = "Haussière"
	}
	rsi := "N/A"
	if last.RSI != nil {
		rsi = fmt.Sprintf("%.1f", *last.RSI)
	}
	tail := points[max(0, len(points)-3):]
	recent := make([]string, 0, len(tail))
	for _, p := range tail {
		recent = append(recent, fmt.Sprintf("%.2f", p.Price))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Contexte Marché pour %s:\n", symbol)
	fmt.Fprintf(&b, "- Données disponibles pour: %d jours.\n", len(points))
	fmt.Fprintf(&b, "- Dernier Prix: %.2f USD\n", last.Price)
	fmt.Fprintf(&b, "- Tendance (vs SMA50): %s\n", trend)
	fmt.Fprintf(&b, "- RSI (14 jours): %s\n", rsi)
	fmt.Fprintf(&b, "- Derniers 3 jours (Prix): %s\n", strings.Join(recent, ", "))
	return b.String()
}

// AnalysisPrompt asks for a market analysis of symbol
func AnalysisPrompt(symbol string, points []market.Point) Prompt {
	return Prompt{
		Kind: KindAnalysis,
		Text: MarketContext(symbol, points) +
			"\nREQUÊTE UTILISATEUR:\nFournis une analyse de marché détaillée et concise pour " + symbol + ".",
	}
}

// ProposalPrompt asks for a concrete trade plan on symbol
func ProposalPrompt(symbol string, points []market.Point) Prompt {
	return Prompt{
		Kind: KindProposal,
		Text: MarketContext(symbol, points) +
			"\nREQUÊTE UTILISATEUR:\nPropose un plan de trade spécifique et actionnable pour " + symbol +
			", incluant la direction (achat/vente), le raisonnement, un point d'entrée, un stop-loss, et une recommandation sur la taille de la position.",
	}
}

// ChatPrompt carries the transcript and the new question
func ChatPrompt(symbol string, points []market.Point, history []Message, question string) Prompt {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		who := "ATLAS"
		if m.Sender == "user" {
			who = "UTILISATEUR"
		}
		lines = append(lines, who+": "+m.Text)
	}
	return Prompt{
		Kind: KindChat,
		Text: MarketContext(symbol, points) +
			"\nHISTORIQUE DE CONVERSATION:\n" + strings.Join(lines, "\n") +
			"\n\nNOUVELLE QUESTION UTILISATEUR:\n" + question,
	}
}
