package assistant

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
)

// Canned answers without calling a model, for development without an API key
type Canned struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewCanned creates a Canned generator; seed fixes the quoted levels
func NewCanned(seed uint64) *Canned {
	return &Canned{rng: rand.New(rand.NewPCG(seed, seed+1))}
}

// Name identifies the backend in logs and metrics
func (c *Canned) Name() string { return "canned" }

// Generate returns the fixed answer for the prompt kind
func (c *Canned) Generate(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch p.Kind {
	case KindProposal:
		c.mu.Lock()
		entry := 64000 + c.rng.IntN(1000)
		stop := 63000 + c.rng.IntN(1000)
		c.mu.Unlock()
		return fmt.Sprintf(`**Proposition d'Achat sur BTC/USD**

*   **Raisonnement :** La tendance de fond est haussière (prix > SMA50) et le RSI (52.0) est neutre, indiquant un potentiel de hausse sans être suracheté. Le prix montre une consolidation récente, ce qui pourrait précéder un nouveau mouvement ascendant.
*   **Action :** Achat (Long)
*   **Point d'entrée :** Autour de %d USD
*   **Stop-Loss :** %d USD (Protection contre un retournement)
*   **Taille de Position :** Allouer 1%% de votre capital de trading à cette position.

*Avertissement : Le trading comporte des risques. Ceci n'est pas un conseil financier.*`, entry, stop), nil
	case KindAnalysis:
		return `**Analyse de Marché - BTC/USD**

*   **Tendance Actuelle :** La tendance générale est **haussière**. Le prix se maintient au-dessus de sa moyenne mobile à 50 jours (SMA50), ce qui est un signe de force à moyen terme.
*   **Momentum (RSI) :** L'indicateur RSI est à **52.0**, ce qui indique un marché neutre. Il n'est ni en surachat (RSI > 70) ni en survente (RSI < 30), laissant de la place pour un mouvement dans les deux directions.
*   **Conclusion :** Le contexte est modérément positif. La tendance de fond soutient les positions acheteuses, mais l'absence de fort momentum suggère d'attendre une confirmation claire avant d'entrer agressivement sur le marché.`, nil
	default:
		return "Bonjour! Je suis Atlas Trader. Comment puis-je vous aider à analyser les marchés aujourd'hui ? Demandez-moi une analyse, une proposition de trade, ou posez n'importe quelle question sur le symbole actuel.", nil
	}
}
