package rag

import "fmt"

const graderPrompt = `You are a grader assessing relevance of a retrieved document to a user question.
Here is the retrieved document:

%s

Here is the user question: %s
If the document contains keyword(s) or semantic meaning related to the user question, grade it as relevant.
Give a binary score 'yes' or 'no' score to indicate whether the document is relevant to the question.`

const rewritePrompt = `Look at the input and try to reason about the underlying semantic intent / meaning.
Here is the initial question:
 -------
%s
 -------
Formulate an improved question:`

const generatePrompt = `You are an assistant for question-answering tasks. Use the following pieces of retrieved context to answer the question. If you don't know the answer, just say that you don't know. Use three sentences maximum and keep the answer concise.
Question: %s
Context: %s
Answer:`

func gradePrompt(document, question string) string {
	return fmt.Sprintf(graderPrompt, document, question)
}

func improvePrompt(question string) string {
	return fmt.Sprintf(rewritePrompt, question)
}

func answerPrompt(question, context string) string {
	return fmt.Sprintf(generatePrompt, question, context)
}
