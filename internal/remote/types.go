package remote

// Wire types for the hosted document-analysis service. Only the fields we
// consume are declared; the service sends more.

type documentResult struct {
	Status        string        `json:"status"`
	AnalyzeResult analyzeResult `json:"analyzeResult"`
}

type analyzeResult struct {
	APIVersion    string         `json:"apiVersion"`
	ModelID       string         `json:"modelId"`
	Content       string         `json:"content"`
	KeyValuePairs []keyValuePair `json:"keyValuePairs"`
}

type keyValuePair struct {
	Key        kvContent `json:"key"`
	Value      kvContent `json:"value"`
	Confidence float64   `json:"confidence"` // 0..1 on the wire
}

type kvContent struct {
	Content string `json:"content"`
}
