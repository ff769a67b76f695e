package extraction

const extractionSystemPrompt = `You are an analyst extracting business signals from US government publications. Respond with a single JSON object and nothing else.`

const extractionPromptTemplate = `Analyze the following government publication and extract structured business signals.

Return a JSON object with exactly these fields:
- "title": a concise, human-readable title for the publication
- "companies_mentioned": an array of company names explicitly mentioned (empty array if none)
- "sector": an array of affected industry sectors, chosen from: %s
- "relevance": an array of business relevance ratings, each one of "low", "medium", or "high"
- "summary": a 2-4 sentence plain-language summary of the business impact

Publication content:
%s`

const tailoredSystemPrompt = `You are an analyst writing briefings for a specific subscriber. Respond with a single JSON object and nothing else.`

const tailoredPromptTemplate = `Write a short briefing on the following government publication for a subscriber with this profile:

Company type: %s
Interests: %s

Focus on what this publication means for them specifically. 2-3 sentences, plain language, no preamble.

Return a JSON object with exactly one field:
- "summary": the briefing text

Publication content:
%s`
