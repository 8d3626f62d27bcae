package categorize

import "fmt"

const vendorRules = `Rules for returning the vendor:
- Return only the official/primary vendor name
- For open source projects, return the organization maintaining it
- If multiple vendors are mentioned, return the one responsible for the vulnerable component
- Normalize variations of the same vendor name
- If no clear vendor is found, return "Unknown"
- Use official vendor names where possible and keep the same name for vulnerabilities of the same vendor`

const preamble = `You are a security expert.
Categorize the following vulnerability description into a CWE category, identify the vendor, and extract the cause and impact of the vulnerability.
Provide the CWE ID (only the CWE ID of the vulnerability), a brief explanation, the vendor name, the cause of the vulnerability, and its impact.`

const jsonExample = `{"cwe_category": "CWE-ID", "explanation": "Brief Explanation of the CWE", "vendor": "Vendor Name", "cause": "Cause of the Vulnerability", "impact": "Impact of the Vulnerability"}`

// Prompt asks a hosted model for a single JSON object.
func Prompt(description string) string {
	return fmt.Sprintf("%s\n\nDescription:\n```\n%s\n```\n%s\n\nReturns only the result nothing more!\nExample:\n    %s\n\nOutput:\n```json\n    %s\n```\n",
		preamble, description, vendorRules, jsonExample, jsonExample)
}

// LocalPrompt asks a local model for labeled lines, which small models follow
// more reliably than JSON.
func LocalPrompt(description string) string {
	return fmt.Sprintf("%s\n\nDescription:\n```\n%s\n```\n%s\n\nFormat your response as follows:\nCWE ID: <CWE-ID number only>\nExplanation: <brief explanation of the vulnerability>\nVendor: <vendor name>\nCause: <cause of the vulnerability>\nImpact: <impact of the vulnerability>\n",
		preamble, description, vendorRules)
}
