package llm

// Prompt templates for the chat-completion calls. All JSON-returning prompts
// state the exact object shape; parse.go still tolerates fenced or slightly
// mangled output.

const summarizePrompt = `You are a professional news writer. Summarize the following news article.

News Title:
%s

News Description:
%s

News Content:
%s

Provide a concise summary that captures the key points and entities from the news.`

const judgePrompt = `You are a news expert. Analyze the similarity between a news article and an existing news thread.

News Article:
Title: %s
Description: %s
Content: %s

Existing Thread:
Title: %s
Summary: %s

Consider topic relevance, key entities, geographic locations, time relevance and event connections.
Assign a similarity score between 0 and 100 (inclusive), where 0 means not relevant at all and 100 means exactly matching or highly related.

Respond with a valid JSON object of this exact structure:
{
    "justification": "Your detailed reasoning for the similarity score",
    "score": <integer between 0 and 100>
}`

const revisePrompt = `You are a professional news writer. Update an existing news thread based on a new article being added to it.

New News Article:
Title: %s
Description: %s
Content: %s

Current Thread:
Title: %s
Summary: %s

Provide an updated thread title reflecting the evolving story, an updated summary incorporating the new information, and whether this news likely concludes the thread (a final verdict, a competition outcome, the resolution of a conflict).

Respond with a valid JSON object of this exact structure:
{
    "title": "Updated thread title",
    "summary": "Updated comprehensive summary incorporating the new article",
    "resolved": true or false
}`
