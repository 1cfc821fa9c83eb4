package extract

// stateScript collects the page's embedded state objects and visible text.
// Values that fail to serialize are skipped so one bad object cannot hide the
// others.
const stateScript = `(() => {
  const out = {};
  const grab = (name, value) => {
    if (value === undefined || value === null) return;
    try { out[name] = JSON.parse(JSON.stringify(value)); } catch (e) {}
  };
  grab("universal_data", window.__UNIVERSAL_DATA_FOR_REHYDRATION__);
  grab("sigi_state", window.SIGI_STATE);
  grab("next_data", window.__NEXT_DATA__);
  out.page_text = document.body ? document.body.innerText : "";
  return out;
})()`

// embeddedScriptIDs are the ids of <script> elements carrying state JSON,
// consulted when evaluation returned no universal payload.
var embeddedScriptIDs = []string{
	"__UNIVERSAL_DATA_FOR_REHYDRATION__",
	"SIGI_STATE",
	"__NEXT_DATA__",
}
