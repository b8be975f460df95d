package verifier

// hookScript runs before page scripts and flags calls to the usual
// execution sinks on window.xssDetected / window.xssMethod.
const hookScript = `
window.xssDetected = false;

const originalAlert = window.alert;
window.alert = function() {
    window.xssDetected = true;
    window.xssMethod = 'alert';
    originalAlert.apply(this, arguments);
};

const originalConfirm = window.confirm;
window.confirm = function() {
    window.xssDetected = true;
    window.xssMethod = 'confirm';
    return originalConfirm.apply(this, arguments);
};

const originalPrompt = window.prompt;
window.prompt = function() {
    window.xssDetected = true;
    window.xssMethod = 'prompt';
    return originalPrompt.apply(this, arguments);
};

const originalWrite = document.write;
document.write = function(content) {
    if (content && String(content).includes('script')) {
        window.xssDetected = true;
        window.xssMethod = 'document.write';
    }
    return originalWrite.apply(this, arguments);
};
`

const (
	flagExpr   = "window.xssDetected || false"
	methodExpr = "window.xssMethod || null"
)

// consolePatterns mark a console message as evidence of injected code
var consolePatterns = []string{"xss", "script", "injection", "alert(", "confirm("}

const consoleDetailLimit = 100
