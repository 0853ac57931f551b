package engine

import (
	"fmt"
	"strings"

	"github.com/ashureev/iceberg/internal/domain"
)

// ExclusionListSize is how many prior questions/reframes the response prompt
// asks the model to avoid.
const ExclusionListSize = 10

// RegenerationListSize is how many prior items the regeneration prompt lists.
const RegenerationListSize = 25

const analysisPrompt = `You are the analysis step of a reflection assistant. Read the user's latest message in the context of the conversation and extract what sits beneath it.

Return ONLY a JSON object with these string fields:
- trigger_event: the concrete situation that set off the feeling, in one short phrase
- likely_interpretation: how the user seems to be reading that situation
- underlying_fear: what the user is afraid this means
- emotional_need: what the user most needs right now
- core_wound: an identity-level belief if one is clearly present, otherwise an empty string

Stay close to the user's own words. Do not diagnose. Do not give advice.`

const responsePrompt = `You are a warm, grounded reflection companion. You help people notice the thought beneath a feeling without lecturing, diagnosing or rushing them.

Return ONLY a JSON object with these string fields:
- acknowledgment: one or two sentences that show you heard the feeling
- thoughtPattern: the name of the thinking pattern, if any (for example "All-or-nothing thinking", "Catastrophizing", "Labeling", "Mind reading")
- patternNote: one sentence describing the pattern gently, in plain language
- reframe: one or two sentences offering a kinder, more balanced way to see it
- question: at most one short question, or an empty string
- encouragement: one short closing sentence
- layerInsight: one sentence about what this moment shows beneath the surface

Rules:
- Use plain, specific language. Avoid stock comfort phrases.
- Never repeat a question or reframe you have used before in this conversation.
- Ask at most one question. When told not to ask, return an empty question.`

var layerGuidance = map[domain.Layer]string{
	domain.LayerSurface:    `Depth: SURFACE. Stay with what happened. Reflect the event and the feeling in the user's own words. Keep the reframe light and concrete.`,
	domain.LayerTransition: `Depth: TRANSITION. Gently connect the event to the interpretation the user is making. Name the thought without challenging it hard.`,
	domain.LayerEmotion:    `Depth: EMOTION. Focus on the feeling under the thought and the need it points to. The reframe should make room for the feeling, not argue with it.`,
	domain.LayerCoreWound:  `Depth: CORE WOUND. The user is touching an identity-level belief. Be slow and steady. Do not use metaphors about stories, chapters, storms or light. Prefer no question over a probing one. thoughtPattern must be "Core Belief".`,
}

var interventionGuidance = map[domain.Intervention]string{
	domain.InterventionGround:        `Approach: GROUND. Help the user settle in the present moment. Short sentences. No analysis. Offer one simple calming focus.`,
	domain.InterventionValidateOnly:  `Approach: VALIDATE ONLY. Reflect and validate. Do not reframe hard, do not teach, do not ask a question.`,
	domain.InterventionTinyPlan:      `Approach: TINY PLAN. Offer one very small, concrete next step the user could take today. The question may check which step feels doable.`,
	domain.InterventionSeparateFacts: `Approach: SEPARATE FACTS. Gently separate what happened from what the user concluded about it.`,
	domain.InterventionReflectMap:    `Approach: REFLECT AND MAP. Mirror the situation, the thought and the feeling so the user can see how they connect.`,
	domain.InterventionCBTReframe:    `Approach: REFRAME. Name the thinking pattern and offer a balanced alternative grounded in the facts the user gave.`,
}

var intentGuidance = map[domain.Intent]string{
	domain.IntentCalm:     "The user asked to feel calmer.",
	domain.IntentClarity:  "The user asked for clarity about what is going on.",
	domain.IntentNextStep: "The user asked for a next step.",
	domain.IntentMeaning:  "The user wants to understand what this means to them.",
	domain.IntentListen:   "The user mainly wants to be heard.",
}

type responseParams struct {
	Message     string
	History     []domain.ChatMessage
	Analysis    domain.AnalysisResult
	Layer       domain.Layer
	Decision    domain.EngineDecision
	Grounding   bool
	Intent      domain.Intent
	Trigger     string
	PrevQs      []string
	PrevReframe []string
}

func buildResponsePrompt(p responseParams) string {
	var b strings.Builder
	b.WriteString(responsePrompt)
	b.WriteString("\n\n")
	b.WriteString(layerGuidance[p.Layer])
	b.WriteString("\n")
	b.WriteString(interventionGuidance[p.Decision.Intervention])
	b.WriteString("\n")

	if g, ok := intentGuidance[p.Intent]; ok {
		b.WriteString(g)
		b.WriteString("\n")
	}
	if p.Grounding {
		b.WriteString("Grounding mode is ON: keep everything short, present-focused and soothing. Do not explore or go deeper.\n")
	}
	if p.Decision.AskQuestion {
		b.WriteString("You may ask one short question.\n")
	} else {
		b.WriteString("Do NOT ask a question. Return an empty question.\n")
	}
	if p.Trigger != "" && p.Trigger != p.Message {
		fmt.Fprintf(&b, "\nWhat first brought the user here: %q\n", p.Trigger)
	}

	fmt.Fprintf(&b, "\nAnalysis of the latest message:\n- trigger: %s\n- interpretation: %s\n- fear: %s\n- need: %s\n",
		p.Analysis.TriggerEvent, p.Analysis.LikelyInterpretation, p.Analysis.UnderlyingFear, p.Analysis.EmotionalNeed)
	if p.Analysis.CoreWound != "" {
		fmt.Fprintf(&b, "- core wound: %s\n", p.Analysis.CoreWound)
	}

	writeList(&b, "\nQuestions already asked (do not repeat or paraphrase):", head(p.PrevQs, ExclusionListSize))
	writeList(&b, "\nReframes already offered (do not repeat or paraphrase):", head(p.PrevReframe, ExclusionListSize))
	return b.String()
}

func buildRegenerationPrompt(p responseParams, reasons []string) string {
	var b strings.Builder
	b.WriteString(buildResponsePrompt(p))
	fmt.Fprintf(&b, "\nYour previous draft was rejected (%s). Write a fresh response.\n", strings.Join(reasons, ", "))
	b.WriteString("Avoid stock comfort lines such as \"you're not alone\" or \"weather this storm\". The reframe must be specific to this user and at least one full sentence.\n")
	writeList(&b, "\nYou MUST NOT use any of these questions:", head(p.PrevQs, RegenerationListSize))
	writeList(&b, "\nYou MUST NOT use any of these reframes:", head(p.PrevReframe, RegenerationListSize))
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(title)
	b.WriteString("\n")
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// Static defaults used when the response phase yields nothing usable.
var defaultAcknowledgments = map[domain.Intervention]string{
	domain.InterventionGround:        "That sounds like a lot to hold right now.",
	domain.InterventionValidateOnly:  "I'm really glad you shared that with me.",
	domain.InterventionTinyPlan:      "It makes sense to want something concrete to hold onto.",
	domain.InterventionSeparateFacts: "Let's gently sort out what happened from what it might mean.",
	domain.InterventionReflectMap:    "Thank you for putting this into words.",
	domain.InterventionCBTReframe:    "That thought sounds really convincing right now.",
}

var defaultQuestions = map[domain.Intervention]string{
	domain.InterventionTinyPlan:      "What is one small thing that feels doable in the next hour?",
	domain.InterventionSeparateFacts: "What do you know for certain about what happened?",
	domain.InterventionReflectMap:    "What part of this feels heaviest right now?",
	domain.InterventionCBTReframe:    "What might someone who cares about you notice that this thought leaves out?",
}

var defaultEncouragements = map[domain.Intervention]string{
	domain.InterventionGround:       "Let's keep this moment small and steady.",
	domain.InterventionValidateOnly: "Take whatever you need from this moment.",
}

var defaultLayerInsights = map[domain.Layer]string{
	domain.LayerSurface:    "Right now we're looking at what happened on the surface.",
	domain.LayerTransition: "We're starting to see the thought that sits under the event.",
	domain.LayerEmotion:    "Underneath the thought there's a feeling asking for care.",
	domain.LayerCoreWound:  "This touches a deeper belief about yourself, and it deserves gentleness.",
}
