package cdpcontrol

import "encoding/json"

// jsNoVideoResult is the failed eval envelope for a page without a <video>.
const jsNoVideoResult = `JSON.stringify({ok:false,error_code:"` + CodeNoVideo + `",error_message:"No video element found"})`

// jsString quotes v as a JavaScript string literal.
func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// buildIIFE wraps body so that any thrown error comes back as an
// EVAL_FAILURE envelope instead of an exception.
func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

func wrapJSEval(body string) string      { return buildIIFE(false, body) }
func wrapJSEvalAsync(body string) string { return buildIIFE(true, body) }
